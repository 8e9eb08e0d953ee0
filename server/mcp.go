package server

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/wirediff/compare"
	"github.com/hazyhaar/wirediff/kit"
)

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// RegisterMCP registers the wirediff tools on srv.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerCompareTool(srv)
	if s.cfg.Store != nil {
		s.registerListRunsTool(srv)
	}
}

func (s *Server) registerCompareTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "wirediff_compare",
		Description: "Compare a wireframe PDF page against a live web page at a viewport. " +
			"Returns the diff pixel count, status and artifact paths.",
		InputSchema: inputSchema(map[string]any{
			"screen_name": map[string]any{"type": "string", "description": "Screen identifier, used to name artifacts"},
			"url":         map[string]any{"type": "string", "description": "Page URL (http or https)"},
			"viewport": inputSchema(map[string]any{
				"width":  map[string]any{"type": "integer", "minimum": 1},
				"height": map[string]any{"type": "integer", "minimum": 1},
			}, []string{"width", "height"}),
			"pdf_path":    map[string]any{"type": "string", "description": "Path of the wireframe PDF, relative to the document root"},
			"page_number": map[string]any{"type": "integer", "minimum": 1, "description": "1-indexed page (default 1)"},
		}, []string{"screen_name", "url", "viewport", "pdf_path"}),
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r compare.Request
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.compare, decode)
}

type listRunsRequest struct {
	Limit int `json:"limit,omitempty"`
}

const maxRunsLimit = 500

// clampLimit applies the default of 50 runs and caps the limit.
func clampLimit(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		r := req.(*listRunsRequest)
		switch {
		case r.Limit <= 0:
			r.Limit = 50
		case r.Limit > maxRunsLimit:
			r.Limit = maxRunsLimit
		}
		return next(ctx, r)
	}
}

func (s *Server) registerListRunsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "wirediff_list_runs",
		Description: "List recent comparison runs with completed and failed counts.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max runs (default 50)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.cfg.Store.Runs(ctx, req.(*listRunsRequest).Limit)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r listRunsRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(kit.Logging(s.cfg.Logger, "list_runs"), clampLimit)(endpoint), decode)
}
