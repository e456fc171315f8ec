package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MegaGrindStone/go-aisdk"
)

var expectedTools = []string{"list_content_types", "search_content", "write_content"}

func newMCPCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Use the plugin's MCP endpoint",
	}
	cmd.AddCommand(newMCPToolsCmd(a), newMCPCallCmd(a), newMCPCheckCmd(a))
	return cmd
}

func newMCPToolsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools exposed over MCP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), a.rpcClient(), func(ctx context.Context, rpc *aisdk.RPCClient) error {
				tools, err := rpc.ListTools(ctx)
				if err != nil {
					return err
				}
				for _, t := range tools {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t.Name, t.Description)
				}
				return nil
			})
		},
	}
}

func newMCPCallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "call TOOL [JSON_ARGUMENTS]",
		Short: "Call a tool and print its result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toolArgs json.RawMessage
			if len(args) == 2 {
				parsed, err := parseToolArguments(args[1])
				if err != nil {
					return err
				}
				toolArgs = parsed
			}

			return withSession(cmd.Context(), a.rpcClient(), func(ctx context.Context, rpc *aisdk.RPCClient) error {
				var callArgs any
				if toolArgs != nil {
					callArgs = toolArgs
				}
				res, err := rpc.CallTool(ctx, args[0], callArgs)
				if err != nil {
					return err
				}
				for _, c := range res.Content {
					if c.Type == aisdk.ContentTypeText {
						fmt.Fprintln(cmd.OutOrStdout(), c.Text)
					}
				}
				if res.IsError {
					return fmt.Errorf("tool %s reported an error", args[0])
				}
				return nil
			})
		},
	}
}

func newMCPCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the MCP endpoint checks: initialize, list tools, call list_content_types",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := &checker{out: cmd.OutOrStdout()}
			c.run(cmd.Context(), a)
			if c.failed > 0 {
				return fmt.Errorf("%d check(s) failed", c.failed)
			}
			return nil
		},
	}
}

var errArgumentsNotObject = errors.New("arguments must be a JSON object")

// parseToolArguments checks that raw is a JSON object and returns it unchanged.
func parseToolArguments(raw string) (json.RawMessage, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return nil, errArgumentsNotObject
	}
	return json.RawMessage(raw), nil
}

// withSession runs fn inside a fresh session and releases the session afterwards.
func withSession(ctx context.Context, rpc *aisdk.RPCClient, fn func(context.Context, *aisdk.RPCClient) error) error {
	sessID, err := rpc.CreateSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = rpc.CloseSession(cleanupCtx, sessID)
	}()

	return fn(ctx, rpc)
}

type checker struct {
	out    io.Writer
	failed int
}

func (c *checker) pass(format string, args ...any) {
	fmt.Fprintln(c.out, color.GreenString("✓ ")+fmt.Sprintf(format, args...))
}

func (c *checker) fail(format string, args ...any) {
	c.failed++
	fmt.Fprintln(c.out, color.RedString("✗ ")+fmt.Sprintf(format, args...))
}

func (c *checker) expect(ok bool, format string, args ...any) {
	if ok {
		c.pass(format, args...)
		return
	}
	c.fail(format, args...)
}

func (c *checker) section(title string) {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, color.New(color.Bold).Sprintf("--- %s ---", title))
}

func (c *checker) run(ctx context.Context, a *app) {
	fmt.Fprintln(c.out, strings.Repeat("=", 50))
	fmt.Fprintln(c.out, "AI SDK plugin MCP endpoint checks")
	fmt.Fprintf(c.out, "MCP endpoint: %s\n", a.mcpURL())
	fmt.Fprintln(c.out, strings.Repeat("=", 50))

	if err := c.health(ctx, a); err != nil {
		c.fail("server is not reachable: %v", err)
		return
	}

	c.section("Initialize + list tools")
	c.initializeAndListTools(ctx, a.rpcClient())

	c.section("Tool call: list_content_types")
	c.callListContentTypes(ctx, a.rpcClient())
}

func (c *checker) health(ctx context.Context, a *app) error {
	base := strings.TrimSuffix(strings.TrimRight(a.cfg.APIURL, "/"), "/api/ai-sdk")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/_health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	c.pass("server is running")
	return nil
}

func (c *checker) initializeAndListTools(ctx context.Context, rpc *aisdk.RPCClient) {
	sessID, err := rpc.CreateSession(ctx)
	if err != nil {
		c.fail("initialize: %v", err)
		return
	}
	defer func() { _ = rpc.CloseSession(context.WithoutCancel(ctx), sessID) }()
	c.pass("session created: %s", sessID)

	info, _ := rpc.ServerInfo()
	c.expect(info.ServerInfo.Name == "ai-sdk-mcp", "server name: %q", info.ServerInfo.Name)
	c.expect(info.Capabilities.Tools != nil, "server declares tools capability")

	tools, err := rpc.ListTools(ctx)
	if err != nil {
		c.fail("tools/list: %v", err)
		return
	}
	c.pass("found %d tools", len(tools))

	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
		fmt.Fprintf(c.out, "   - %s: %s\n", t.Name, truncate(t.Description, 60))
	}

	c.expect(len(tools) == len(expectedTools), "tool count is %d", len(expectedTools))
	for _, name := range expectedTools {
		c.expect(slices.Contains(names, name), "has %s", name)
	}
	c.expect(!slices.Contains(names, "trigger_animation"), "trigger_animation is not exposed over MCP")
}

func (c *checker) callListContentTypes(ctx context.Context, rpc *aisdk.RPCClient) {
	sessID, err := rpc.CreateSession(ctx)
	if err != nil {
		c.fail("initialize: %v", err)
		return
	}
	defer func() { _ = rpc.CloseSession(context.WithoutCancel(ctx), sessID) }()

	res, err := rpc.CallTool(ctx, "list_content_types", nil)
	if err != nil {
		c.fail("tools/call: %v", err)
		return
	}
	if len(res.Content) == 0 {
		c.fail("result has no content")
		return
	}
	c.pass("result has content")
	c.expect(res.Content[0].Type == aisdk.ContentTypeText, "content is text, got %q", res.Content[0].Type)

	var parsed struct {
		ContentTypes []struct {
			UID         string `json:"uid"`
			DisplayName string `json:"displayName"`
		} `json:"contentTypes"`
		Components []json.RawMessage `json:"components"`
	}
	if err := json.Unmarshal([]byte(res.Content[0].Text), &parsed); err != nil {
		c.fail("content is not JSON: %v", err)
		return
	}

	c.expect(parsed.ContentTypes != nil, "found %d content types", len(parsed.ContentTypes))
	for i, ct := range parsed.ContentTypes {
		if i == 5 {
			fmt.Fprintf(c.out, "   ... and %d more\n", len(parsed.ContentTypes)-5)
			break
		}
		fmt.Fprintf(c.out, "   - %s (%s)\n", ct.UID, ct.DisplayName)
	}
	c.expect(parsed.Components != nil, "found %d components", len(parsed.Components))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
