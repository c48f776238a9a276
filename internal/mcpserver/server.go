// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes TreeApp tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/treeapp/internal/models"
	"github.com/starford/treeapp/internal/treeservice"
)

const outlineFormatURI = "treeapp://outline-format"

// Server wraps the MCP server with TreeApp tools.
type Server struct {
	mcp *server.MCPServer
	svc *treeservice.Service
}

// New creates a new MCP server with all TreeApp tools registered.
func New(svc *treeservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"TreeApp",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_workspace",
		mcp.WithDescription("Describe the workspace: state, root preview and node counts."),
	), s.getWorkspace)

	s.mcp.AddTool(mcp.NewTool("get_node",
		mcp.WithDescription("Read one node with its markdown, notes, code and child ids."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node id")),
	), s.getNode)

	s.mcp.AddTool(mcp.NewTool("list_children",
		mcp.WithDescription("List the children of a folder in order."),
		mcp.WithString("id", mcp.Description("Folder id (empty for the root)")),
	), s.listChildren)

	s.mcp.AddTool(mcp.NewTool("create_node",
		mcp.WithDescription("Create a folder or file under a folder."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Node name")),
		mcp.WithString("type", mcp.Required(), mcp.Enum("folder", "file"), mcp.Description("Node type")),
		mcp.WithString("parent_id", mcp.Description("Parent folder id (empty for the root)")),
		mcp.WithString("status", mcp.Description("pending, done or blocked")),
		mcp.WithString("markdown", mcp.Description("Markdown content")),
		mcp.WithString("notes", mcp.Description("Free-form notes")),
		mcp.WithString("code", mcp.Description("Code snippet")),
	), s.createNode)

	s.mcp.AddTool(mcp.NewTool("update_node",
		mcp.WithDescription("Change a node's name, status or content. Omitted fields are kept."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node id")),
		mcp.WithString("name", mcp.Description("New name")),
		mcp.WithString("status", mcp.Description("pending, done or blocked")),
		mcp.WithString("markdown", mcp.Description("Markdown content")),
		mcp.WithString("notes", mcp.Description("Free-form notes")),
		mcp.WithString("code", mcp.Description("Code snippet")),
	), s.updateNode)

	s.mcp.AddTool(mcp.NewTool("delete_node",
		mcp.WithDescription("Delete a node and everything below it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node id")),
	), s.deleteNode)

	s.mcp.AddTool(mcp.NewTool("move_node",
		mcp.WithDescription("Move a node under another folder."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node id")),
		mcp.WithString("parent_id", mcp.Required(), mcp.Description("New parent folder id")),
	), s.moveNode)

	s.mcp.AddTool(mcp.NewTool("search_nodes",
		mcp.WithDescription("Full-text search through node names, markdown, notes and code."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20)")),
	), s.searchNodes)

	s.mcp.AddTool(mcp.NewTool("workspace_stats",
		mcp.WithDescription("Count nodes by type and status."),
	), s.workspaceStats)

	s.mcp.AddTool(mcp.NewTool("export_outline",
		mcp.WithDescription("Render a subtree as an indented text outline. "+
			"The format is described by the "+outlineFormatURI+" resource."),
		mcp.WithString("id", mcp.Description("Subtree root id (empty for the whole workspace)")),
	), s.exportOutline)

	s.mcp.AddTool(mcp.NewTool("import_outline",
		mcp.WithDescription("Create nodes from an indented text outline. Read the "+
			outlineFormatURI+" resource first. Pass the outline inline or as a URL "+
			"(http/https or a base64 data: URI)."),
		mcp.WithString("outline", mcp.Description("Outline text")),
		mcp.WithString("url", mcp.Description("Where to fetch the outline from when not inline")),
		mcp.WithString("parent_id", mcp.Description("Target folder id (empty for the root)")),
	), s.importOutline)

	s.mcp.AddResource(
		mcp.NewResource(outlineFormatURI, "Outline Format",
			mcp.WithResourceDescription("Indented text format used by import_outline and export_outline."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readOutlineFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// optString returns the argument and whether it was supplied.
func optString(req mcp.CallToolRequest, key string) (string, bool) {
	v, ok := req.GetArguments()[key].(string)
	return v, ok
}

func (s *Server) getWorkspace(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Workspace(ctx))
}

func (s *Server) getNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.GetNode(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(n)
}

func (s *Server) listChildren(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, _ := optString(req, "id")
	if id == "" {
		id = s.svc.Stats(ctx).RootID
	}
	nodes, err := s.svc.Children(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(nodes)
}

func (s *Server) createNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawType, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typ, err := models.ParseNodeType(rawType)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	in := treeservice.CreateInput{Name: name, Type: typ}
	in.ParentID, _ = optString(req, "parent_id")
	if in.ParentID == "" {
		in.ParentID = s.svc.Stats(ctx).RootID
	}
	if raw, ok := optString(req, "status"); ok {
		st, err := models.ParseStatus(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		in.Status = st
	}
	in.Markdown, _ = optString(req, "markdown")
	in.Notes, _ = optString(req, "notes")
	in.Code, _ = optString(req, "code")

	n, err := s.svc.CreateNode(ctx, in)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(n)
}

func (s *Server) updateNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var upd models.NodeUpdate
	if v, ok := optString(req, "name"); ok {
		upd.Name = &v
	}
	if raw, ok := optString(req, "status"); ok {
		st, err := models.ParseStatus(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		upd.Status = &st
	}
	if v, ok := optString(req, "markdown"); ok {
		upd.Markdown = &v
	}
	if v, ok := optString(req, "notes"); ok {
		upd.Notes = &v
	}
	if v, ok := optString(req, "code"); ok {
		upd.Code = &v
	}
	if upd.Empty() {
		return mcp.NewToolResultError("nothing to update"), nil
	}

	n, err := s.svc.UpdateNode(ctx, id, upd)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(n)
}

func (s *Server) deleteNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	removed, err := s.svc.DeleteNode(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted %d node(s)", len(removed))), nil
}

func (s *Server) moveNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	parentID, err := req.RequireString("parent_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.MoveNode(ctx, id, parentID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(n)
}

func (s *Server) searchNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) workspaceStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Stats(ctx))
}

func (s *Server) exportOutline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, _ := optString(req, "id")
	text, err := s.svc.Export(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) readOutlineFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      outlineFormatURI,
			MIMEType: "text/markdown",
			Text:     OutlineFormat,
		},
	}, nil
}
