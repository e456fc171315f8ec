package aisdk

import (
	"context"
	"fmt"
)

// ListTools lists the tools of the current session's server. It follows pagination cursors until the
// last page.
func (c *RPCClient) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	params := ListToolsParams{}
	for {
		res, err := c.Call(ctx, MethodToolsList, params)
		if err != nil {
			return nil, err
		}

		var page ListToolsResult
		if err := res.Decode(&page); err != nil {
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}
		tools = append(tools, page.Tools...)

		if page.NextCursor == "" || page.NextCursor == params.Cursor {
			return tools, nil
		}
		params.Cursor = page.NextCursor
	}
}

// CallTool invokes the tool name with args. A nil args is sent as an empty object. A tool that ran
// but failed is reported through CallToolResult.IsError, not as an error.
func (c *RPCClient) CallTool(ctx context.Context, name string, args any) (CallToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}

	res, err := c.Call(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return CallToolResult{}, err
	}

	var result CallToolResult
	if err := res.Decode(&result); err != nil {
		return CallToolResult{}, fmt.Errorf("failed to call tool %s: %w", name, err)
	}
	return result, nil
}
