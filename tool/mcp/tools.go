package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/omnillm/tool"
)

// CategoryRemote tags tools sourced from an MCP server.
const CategoryRemote = "remote"

// ToolError is returned when the MCP server reports an error response.
type ToolError struct {
	Name    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp tool %s: %s", e.Name, e.Message)
}

// toolLister is the slice of the MCP session used for tool discovery.
type toolLister interface {
	ListTools(ctx context.Context, params *sdkmcp.ListToolsParams) (*sdkmcp.ListToolsResult, error)
}

// ListAllTools returns the full set of tools exposed by the MCP server,
// following pagination cursors to the end.
func (c *Client) ListAllTools(ctx context.Context) ([]*sdkmcp.Tool, error) {
	if c.session == nil {
		return nil, ErrClientClosed
	}
	return listAllTools(ctx, c.session)
}

func listAllTools(ctx context.Context, lister toolLister) ([]*sdkmcp.Tool, error) {
	var (
		cursor string
		tools  []*sdkmcp.Tool
	)
	for {
		params := &sdkmcp.ListToolsParams{}
		if cursor != "" {
			params.Cursor = cursor
		}
		res, err := lister.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	return tools, nil
}

// CallTool invokes a remote MCP tool and returns the textual response. The
// caller's ctx deadline bounds the remote call exactly like a local tool.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if c.session == nil {
		return "", ErrClientClosed
	}

	result, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}

	message := normalizeContent(result.Content)
	if result.IsError {
		if message == "" {
			message = "tool returned error without message"
		}
		return "", &ToolError{Name: name, Message: message}
	}
	return message, nil
}

// BuildTools converts the server's tool definitions into local registrations
// whose handlers forward to CallTool.
func (c *Client) BuildTools(ctx context.Context) ([]*tool.Tool, error) {
	defs, err := c.ListAllTools(ctx)
	if err != nil {
		return nil, err
	}

	tools := make([]*tool.Tool, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}

		description := def.Description
		if description == "" && def.Annotations != nil {
			description = def.Annotations.Title
		}

		remoteName := def.Name
		tools = append(tools, &tool.Tool{
			Name:        remoteName,
			Description: description,
			Category:    CategoryRemote,
			Parameters:  parametersFromSchema(def.InputSchema),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				if args == nil {
					args = make(map[string]any)
				}
				return c.CallTool(ctx, remoteName, args)
			},
		})
	}
	return tools, nil
}

func normalizeContent(content []sdkmcp.Content) string {
	if len(content) == 0 {
		return ""
	}
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case *sdkmcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := c.MarshalJSON(); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// parametersFromSchema flattens an MCP object schema into tool parameters.
// Nested object details stay opaque; they survive as type "object".
func parametersFromSchema(schema any) []tool.Parameter {
	schemaMap := toMap(schema)
	if schemaMap == nil {
		return nil
	}

	typeVal, _ := schemaMap["type"].(string)
	if !strings.EqualFold(typeVal, "object") {
		return nil
	}

	propsRaw, ok := schemaMap["properties"].(map[string]any)
	if !ok || len(propsRaw) == 0 {
		return nil
	}

	requiredSet := make(map[string]struct{})
	if list, ok := schemaMap["required"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				requiredSet[s] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(propsRaw))
	for name := range propsRaw {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tool.Parameter, 0, len(names))
	for _, name := range names {
		prop := toMap(propsRaw[name])
		p := tool.Parameter{Name: name, Type: "string"}
		if prop != nil {
			if t, ok := prop["type"].(string); ok && t != "" {
				p.Type = t
			}
			if d, ok := prop["description"].(string); ok {
				p.Description = d
			}
			if enumRaw, ok := prop["enum"].([]any); ok {
				for _, e := range enumRaw {
					if s, ok := e.(string); ok {
						p.Enum = append(p.Enum, s)
					}
				}
			}
			p.Default = prop["default"]
		}
		if _, ok := requiredSet[name]; ok {
			p.Required = true
		}
		params = append(params, p)
	}
	return params
}

func toMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case nil:
		return nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var out map[string]any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil
		}
		return out
	}
}
