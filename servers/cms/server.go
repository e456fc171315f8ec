package cms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// ServerName is reported in the initialize result.
	ServerName = "ai-sdk-mcp"
	// ServerVersion is reported in the initialize result.
	ServerVersion = "1.0.0"
)

// Server exposes a Store as MCP tools: list_content_types, search_content and write_content. Tools
// that only make sense inside the chat UI are not exposed here.
type Server struct {
	store  *Store
	logger *slog.Logger

	MCPServer *mcp.Server
}

type searchContentArgs struct {
	ContentType string `json:"contentType"`
	Query       string `json:"query"`
	Limit       int    `json:"limit"`
}

type writeContentArgs struct {
	ContentType string         `json:"contentType"`
	Data        map[string]any `json:"data"`
}

// NewServer builds the MCP server for store. A nil logger discards logs.
func NewServer(store *Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		store:     store,
		logger:    logger,
		MCPServer: mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: ServerVersion}, nil),
	}

	s.MCPServer.AddTool(&mcp.Tool{
		Name:        "list_content_types",
		Description: "List every content type and component registered in the CMS, with their attributes.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.listContentTypes)

	s.MCPServer.AddTool(&mcp.Tool{
		Name:        "search_content",
		Description: "Search entries of a content type. Matches the query against string fields.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"contentType": {Type: "string", Description: "UID of the content type, e.g. api::article.article"},
				"query":       {Type: "string", Description: "Case-insensitive text to look for"},
				"limit":       {Type: "integer", Description: "Maximum number of entries to return"},
			},
			Required: []string{"contentType"},
		},
	}, s.searchContent)

	s.MCPServer.AddTool(&mcp.Tool{
		Name:        "write_content",
		Description: "Create an entry of a content type.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"contentType": {Type: "string", Description: "UID of the content type"},
				"data":        {Type: "object", Description: "Attribute values of the new entry"},
			},
			Required: []string{"contentType", "data"},
		},
	}, s.writeContent)

	return s
}

// Handler serves the MCP Streamable HTTP transport. With jsonResponse set, calls are answered with a
// single JSON document instead of an event stream.
func (s *Server) Handler(jsonResponse bool) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.MCPServer
	}, &mcp.StreamableHTTPOptions{JSONResponse: jsonResponse})
}

func (s *Server) listContentTypes(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	contentTypes, components := s.store.ContentTypes()
	s.logger.InfoContext(ctx, "tool.list_content_types.ok",
		slog.Int("content_types", len(contentTypes)),
		slog.Int("components", len(components)))

	return jsonResult(map[string]any{
		"contentTypes": contentTypes,
		"components":   components,
	})
}

func (s *Server) searchContent(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args searchContentArgs
	if err := parseArguments(req, &args); err != nil {
		return errorResult(err), nil
	}

	entries, err := s.store.Search(args.ContentType, args.Query, args.Limit)
	if err != nil {
		s.logger.WarnContext(ctx, "tool.search_content.fail", slog.String("err", err.Error()))
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"contentType": args.ContentType,
		"results":     entries,
	})
}

func (s *Server) writeContent(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args writeContentArgs
	if err := parseArguments(req, &args); err != nil {
		return errorResult(err), nil
	}

	entry, err := s.store.Write(args.ContentType, args.Data)
	if err != nil {
		s.logger.WarnContext(ctx, "tool.write_content.fail", slog.String("err", err.Error()))
		return errorResult(err), nil
	}
	s.logger.InfoContext(ctx, "tool.write_content.ok", slog.String("id", entry.ID))

	return jsonResult(entry)
}

func parseArguments(req *mcp.CallToolRequest, v any) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, v); err != nil {
		return fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	bs, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(bs)},
		},
	}, nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: err.Error()},
		},
		IsError: true,
	}
}
