package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/spf13/cobra"

	"github.com/MegaGrindStone/go-aisdk"
)

type config struct {
	// APIURL is where the plugin is mounted. ENV: AISDK_API_URL
	APIURL string `env:"AISDK_API_URL,default=http://localhost:1337/api/ai-sdk"`
	// MCPURL overrides the MCP endpoint, which defaults to APIURL + "/mcp". ENV: AISDK_MCP_URL
	MCPURL string `env:"AISDK_MCP_URL"`
	// APIToken is passed through as a bearer credential. ENV: STRAPI_API_TOKEN
	APIToken string `env:"STRAPI_API_TOKEN"`
	// System is the default system directive. ENV: AI_SYSTEM_PROMPT
	System string `env:"AI_SYSTEM_PROMPT"`
	// LogLevel is one of debug, info, warn, error. ENV: AISDK_LOG_LEVEL
	LogLevel string `env:"AISDK_LOG_LEVEL,default=warn"`
	// ListenAddr is used by serve. ENV: AISDK_LISTEN_ADDR
	ListenAddr string `env:"AISDK_LISTEN_ADDR,default=:1337"`
}

type app struct {
	cfg    config
	logger *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	if err := loadConfig(&a.cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "aisdk",
		Short:         "Talk to the AI SDK plugin: stream answers and call its MCP tools",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfg.APIURL, "api-url", a.cfg.APIURL, "base URL of the plugin API")
	flags.StringVar(&a.cfg.MCPURL, "mcp-url", a.cfg.MCPURL, "MCP endpoint (default <api-url>/mcp)")
	flags.StringVar(&a.cfg.APIToken, "token", a.cfg.APIToken, "bearer token")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level: debug, info, warn, error")

	root.AddCommand(
		newAskCmd(a),
		newStreamCmd(a),
		newChatCmd(a),
		newMCPCmd(a),
		newServeCmd(a),
	)

	return root
}

func loadConfig(cfg *config) error {
	err := envdecode.Decode(cfg)
	if err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return err
	}
	return nil
}

func (a *app) setup() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", a.cfg.LogLevel, err)
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)
	return nil
}

func (a *app) mcpURL() string {
	if a.cfg.MCPURL != "" {
		return a.cfg.MCPURL
	}
	return strings.TrimRight(a.cfg.APIURL, "/") + "/mcp"
}

func (a *app) chatClient() *aisdk.Client {
	return aisdk.NewClient(a.cfg.APIURL, nil,
		aisdk.WithBearerToken(a.cfg.APIToken),
		aisdk.WithLogger(a.logger))
}

func (a *app) rpcClient() *aisdk.RPCClient {
	return aisdk.NewRPCClient(a.mcpURL(), nil,
		aisdk.WithRPCBearerToken(a.cfg.APIToken),
		aisdk.WithClientInfo(aisdk.Info{Name: "aisdk-cli", Version: "1.0.0"}),
		aisdk.WithRPCLogger(a.logger))
}

func (a *app) askOptions(system string) []aisdk.AskOption {
	if system == "" {
		system = a.cfg.System
	}
	if system == "" {
		return nil
	}
	return []aisdk.AskOption{aisdk.WithSystem(system)}
}
