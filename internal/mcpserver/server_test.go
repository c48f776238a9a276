package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/treeapp/internal/models"
	"github.com/starford/treeapp/internal/testutil"
)

func testServer(t *testing.T) (*Server, *testutil.Env) {
	t.Helper()
	env := testutil.TestService(t)
	return New(env.Service, "test"), env
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "get_workspace":
		result, err = srv.getWorkspace(ctx, req)
	case "get_node":
		result, err = srv.getNode(ctx, req)
	case "list_children":
		result, err = srv.listChildren(ctx, req)
	case "create_node":
		result, err = srv.createNode(ctx, req)
	case "update_node":
		result, err = srv.updateNode(ctx, req)
	case "delete_node":
		result, err = srv.deleteNode(ctx, req)
	case "move_node":
		result, err = srv.moveNode(ctx, req)
	case "search_nodes":
		result, err = srv.searchNodes(ctx, req)
	case "workspace_stats":
		result, err = srv.workspaceStats(ctx, req)
	case "export_outline":
		result, err = srv.exportOutline(ctx, req)
	case "import_outline":
		result, err = srv.importOutline(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func decodeNode(t *testing.T, r *mcp.CallToolResult) models.Node {
	t.Helper()
	if r.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(r))
	}
	var n models.Node
	if err := json.Unmarshal([]byte(resultText(r)), &n); err != nil {
		t.Fatalf("decode node: %v (%s)", err, resultText(r))
	}
	return n
}

func TestCreateAndGetNode(t *testing.T) {
	srv, env := testServer(t)

	created := decodeNode(t, callTool(t, srv, "create_node", map[string]interface{}{
		"name":     "plan.md",
		"type":     "file",
		"status":   "done",
		"markdown": "# Plan",
	}))
	if created.ParentID != env.RootID() {
		t.Errorf("parent = %q, want root %q", created.ParentID, env.RootID())
	}

	got := decodeNode(t, callTool(t, srv, "get_node", map[string]interface{}{"id": created.ID}))
	if got.Name != "plan.md" || got.Status != models.StatusDone || got.Markdown != "# Plan" {
		t.Errorf("node = %+v", got)
	}
}

func TestCreateNodeErrors(t *testing.T) {
	srv, env := testServer(t)

	cases := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"missing name", map[string]interface{}{"type": "file"}, "name"},
		{"bad type", map[string]interface{}{"name": "x", "type": "dir"}, "invalid node type"},
		{"bad status", map[string]interface{}{"name": "x", "type": "file", "status": "later"}, "invalid status"},
		{"bad name", map[string]interface{}{"name": "a/b", "type": "file"}, "invalid name"},
		{"missing parent", map[string]interface{}{"name": "x", "type": "file", "parent_id": "nope"}, "not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := callTool(t, srv, "create_node", tc.args)
			if !r.IsError {
				t.Fatalf("expected error, got %q", resultText(r))
			}
			if !strings.Contains(resultText(r), tc.want) {
				t.Errorf("error = %q, want it to mention %q", resultText(r), tc.want)
			}
		})
	}
	if n := env.Store.CountNodes(); n != 1 {
		t.Errorf("nodes = %d, want only the root", n)
	}
}

func TestGetNodeMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_node", map[string]interface{}{"id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing node")
	}
}

func TestListChildren(t *testing.T) {
	srv, _ := testServer(t)
	dir := decodeNode(t, callTool(t, srv, "create_node", map[string]interface{}{"name": "src", "type": "folder"}))
	callTool(t, srv, "create_node", map[string]interface{}{"name": "a.go", "type": "file", "parent_id": dir.ID})
	callTool(t, srv, "create_node", map[string]interface{}{"name": "b.go", "type": "file", "parent_id": dir.ID})

	var kids []models.Node
	r := callTool(t, srv, "list_children", map[string]interface{}{"id": dir.ID})
	if err := json.Unmarshal([]byte(resultText(r)), &kids); err != nil {
		t.Fatal(err)
	}
	if len(kids) != 2 || kids[0].Name != "a.go" || kids[1].Name != "b.go" {
		t.Errorf("children = %+v", kids)
	}

	// No id lists the root.
	r = callTool(t, srv, "list_children", map[string]interface{}{})
	if err := json.Unmarshal([]byte(resultText(r)), &kids); err != nil {
		t.Fatal(err)
	}
	if len(kids) != 1 || kids[0].ID != dir.ID {
		t.Errorf("root children = %+v", kids)
	}
}

func TestUpdateNode(t *testing.T) {
	srv, _ := testServer(t)
	n := decodeNode(t, callTool(t, srv, "create_node", map[string]interface{}{
		"name": "a.md", "type": "file", "notes": "keep",
	}))

	upd := decodeNode(t, callTool(t, srv, "update_node", map[string]interface{}{
		"id":     n.ID,
		"name":   "b.md",
		"status": "❌",
	}))
	if upd.Name != "b.md" || upd.Status != models.StatusBlocked || upd.Notes != "keep" {
		t.Errorf("updated = %+v", upd)
	}

	r := callTool(t, srv, "update_node", map[string]interface{}{"id": n.ID})
	if !r.IsError {
		t.Error("expected error for empty update")
	}
}

func TestDeleteNode(t *testing.T) {
	srv, env := testServer(t)
	dir := decodeNode(t, callTool(t, srv, "create_node", map[string]interface{}{"name": "d", "type": "folder"}))
	callTool(t, srv, "create_node", map[string]interface{}{"name": "f", "type": "file", "parent_id": dir.ID})

	r := callTool(t, srv, "delete_node", map[string]interface{}{"id": dir.ID})
	if got := resultText(r); got != "deleted 2 node(s)" {
		t.Errorf("delete result = %q", got)
	}
	if n := env.Store.CountNodes(); n != 1 {
		t.Errorf("nodes = %d, want 1", n)
	}
}

func TestMoveNode(t *testing.T) {
	srv, _ := testServer(t)
	a := decodeNode(t, callTool(t, srv, "create_node", map[string]interface{}{"name": "a", "type": "folder"}))
	b := decodeNode(t, callTool(t, srv, "create_node", map[string]interface{}{"name": "b", "type": "folder"}))

	moved := decodeNode(t, callTool(t, srv, "move_node", map[string]interface{}{"id": b.ID, "parent_id": a.ID}))
	if moved.ParentID != a.ID {
		t.Errorf("parent = %q, want %q", moved.ParentID, a.ID)
	}

	r := callTool(t, srv, "move_node", map[string]interface{}{"id": a.ID, "parent_id": b.ID})
	if !r.IsError {
		t.Error("expected error when moving a folder into its own subtree")
	}
}

func TestSearchNodes(t *testing.T) {
	srv, _ := testServer(t)
	callTool(t, srv, "create_node", map[string]interface{}{
		"name": "deploy.md", "type": "file", "markdown": "Rollout checklist for kubernetes",
	})

	r := callTool(t, srv, "search_nodes", map[string]interface{}{"query": "kubernetes", "limit": 5})
	if r.IsError {
		t.Fatalf("search error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "deploy.md") {
		t.Errorf("search result = %q", resultText(r))
	}

	r = callTool(t, srv, "search_nodes", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error for missing query")
	}
}

func TestWorkspaceTools(t *testing.T) {
	srv, env := testServer(t)
	callTool(t, srv, "create_node", map[string]interface{}{"name": "f", "type": "file", "status": "done"})

	var stats map[string]any
	if err := json.Unmarshal([]byte(resultText(callTool(t, srv, "workspace_stats", nil))), &stats); err != nil {
		t.Fatal(err)
	}
	if stats["total_nodes"] != float64(2) || stats["done"] != float64(1) || stats["root_id"] != env.RootID() {
		t.Errorf("stats = %v", stats)
	}

	text := resultText(callTool(t, srv, "get_workspace", nil))
	if !strings.Contains(text, env.RootID()) || !strings.Contains(text, "consistent") {
		t.Errorf("workspace = %s", text)
	}
}

func TestExportImportOutline(t *testing.T) {
	srv, env := testServer(t)

	r := callTool(t, srv, "import_outline", map[string]interface{}{
		"outline": "docs/\n  intro.md [✅] # Welcome\n  todo.md\n",
	})
	if r.IsError {
		t.Fatalf("import error: %s", resultText(r))
	}
	var res importResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Created) != 1 {
		t.Fatalf("created = %v", res.Created)
	}
	if n := env.Store.CountNodes(); n != 4 {
		t.Errorf("nodes = %d, want 4", n)
	}

	text := resultText(callTool(t, srv, "export_outline", map[string]interface{}{"id": res.Created[0]}))
	want := "docs/ [⬜]\n  intro.md [✅] # Welcome\n  todo.md [⬜]\n"
	if text != want {
		t.Errorf("export = %q, want %q", text, want)
	}
}

func TestImportOutlineDataURI(t *testing.T) {
	srv, env := testServer(t)
	uri := "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("a.md\nb.md\n"))

	r := callTool(t, srv, "import_outline", map[string]interface{}{"url": uri})
	if r.IsError {
		t.Fatalf("import error: %s", resultText(r))
	}
	if n := env.Store.CountNodes(); n != 3 {
		t.Errorf("nodes = %d, want 3", n)
	}
}

func TestImportOutlineRejected(t *testing.T) {
	srv, env := testServer(t)

	cases := []struct {
		name string
		args map[string]interface{}
	}{
		{"no input", map[string]interface{}{}},
		{"bad outline", map[string]interface{}{"outline": "a.md\n  child.md\n"}},
		{"image data uri", map[string]interface{}{"url": "data:image/png;base64,iVBORw0KGgo="}},
		{"not base64", map[string]interface{}{"url": "data:text/plain,hello"}},
		{"loopback", map[string]interface{}{"url": "http://127.0.0.1/outline.txt"}},
		{"metadata", map[string]interface{}{"url": "http://169.254.169.254/latest"}},
		{"ftp", map[string]interface{}{"url": "ftp://example.com/outline.txt"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := callTool(t, srv, "import_outline", tc.args)
			if !r.IsError {
				t.Errorf("expected error, got %q", resultText(r))
			}
		})
	}
	if n := env.Store.CountNodes(); n != 1 {
		t.Errorf("nodes = %d, want only the root", n)
	}
}

func TestValidateText(t *testing.T) {
	if err := validateText([]byte("a.md\n  b.md\n")); err != nil {
		t.Errorf("plain text rejected: %v", err)
	}
	if err := validateText([]byte{0xff, 0xfe, 0x00}); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
	if err := validateText([]byte("\x89PNG\r\n\x1a\n")); err == nil {
		t.Error("expected error for binary data")
	}
}

func TestOutlineFormatResource(t *testing.T) {
	srv, _ := testServer(t)
	contents, err := srv.readOutlineFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("unexpected content type %T", contents[0])
	}
	if tc.URI != outlineFormatURI || !strings.Contains(tc.Text, "Outline Format") {
		t.Errorf("resource = %+v", tc)
	}
}
