package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/treeapp/internal/models"
	"github.com/starford/treeapp/internal/sse"
	"github.com/starford/treeapp/internal/testutil"
)

// testEnv wires a service with an initialized workspace behind the router.
// A non-empty authToken enables token mode.
func testEnv(t *testing.T, authToken string) (*testutil.Env, http.Handler) {
	t.Helper()
	env := testutil.TestService(t)
	router := NewRouter(env.Service, authToken != "", authToken, nil)
	return env, router
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createNode(t *testing.T, router http.Handler, name, typ, parent string) Node {
	t.Helper()
	w := do(t, router, http.MethodPost, "/nodes", CreateNodeRequest{Name: name, Type: typ, ParentID: parent})
	if w.Code != http.StatusCreated {
		t.Fatalf("create %s = %d, body = %s", name, w.Code, w.Body.String())
	}
	var n Node
	if err := json.Unmarshal(w.Body.Bytes(), &n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestGetWorkspace(t *testing.T) {
	env, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/workspace", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var info WorkspaceResponse
	_ = json.Unmarshal(w.Body.Bytes(), &info)
	if info.State != "consistent" {
		t.Errorf("state = %q", info.State)
	}
	if info.Preview == nil || info.Preview.RootID != env.RootID() {
		t.Errorf("preview = %+v, want root %s", info.Preview, env.RootID())
	}
	if info.Stats.TotalNodes != 1 {
		t.Errorf("total = %d", info.Stats.TotalNodes)
	}
}

func TestInitAndResetWorkspace(t *testing.T) {
	env, router := testEnv(t, "")
	oldRoot := env.RootID()

	w := do(t, router, http.MethodPost, "/workspace/init", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("init on consistent store = %d, want 200", w.Code)
	}

	w = do(t, router, http.MethodPost, "/workspace/reset", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reset = %d", w.Code)
	}
	var res ResetResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.RootID == "" || res.RootID == oldRoot {
		t.Errorf("reset root = %q, old %q", res.RootID, oldRoot)
	}

	// Deleting the root leaves the store empty; init recreates it.
	_ = do(t, router, http.MethodDelete, "/nodes/"+res.RootID, nil)
	w = do(t, router, http.MethodPost, "/workspace/init", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("init on empty store = %d, want 201", w.Code)
	}
	var init InitResponse
	_ = json.Unmarshal(w.Body.Bytes(), &init)
	if !init.CreatedNew || init.Preview == nil || init.Preview.Name != "Root" {
		t.Errorf("init = %+v", init)
	}
}

func TestCreateAndGetNode(t *testing.T) {
	env, router := testEnv(t, "")

	body := CreateNodeRequest{Name: "hello.md", Type: "file", ParentID: env.RootID(), Status: "✅", Markdown: "# Hello"}
	w := do(t, router, http.MethodPost, "/nodes", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created Node
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = do(t, router, http.MethodGet, "/nodes/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var n Node
	_ = json.Unmarshal(w.Body.Bytes(), &n)
	if n.Name != "hello.md" || n.Status != models.StatusDone || n.Markdown != "# Hello" {
		t.Errorf("node = %+v", n)
	}
	if n.ParentID != env.RootID() {
		t.Errorf("parent = %q, want %q", n.ParentID, env.RootID())
	}
}

func TestCreateNode_Errors(t *testing.T) {
	env, router := testEnv(t, "")
	root := env.RootID()
	file := createNode(t, router, "leaf.txt", "file", root)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"invalid name", CreateNodeRequest{Name: "a/b", Type: "file", ParentID: root}, http.StatusBadRequest},
		{"reserved name", CreateNodeRequest{Name: "nul", Type: "file", ParentID: root}, http.StatusBadRequest},
		{"invalid type", CreateNodeRequest{Name: "x", Type: "symlink", ParentID: root}, http.StatusBadRequest},
		{"invalid status", CreateNodeRequest{Name: "x", Type: "file", ParentID: root, Status: "soon"}, http.StatusBadRequest},
		{"missing parent", CreateNodeRequest{Name: "x", Type: "file", ParentID: "ghost"}, http.StatusNotFound},
		{"file parent", CreateNodeRequest{Name: "x", Type: "file", ParentID: file.ID}, http.StatusConflict},
		{"bad json", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/nodes", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestUpdateNode(t *testing.T) {
	env, router := testEnv(t, "")
	n := createNode(t, router, "draft", "file", env.RootID())

	name := "final"
	status := "blocked"
	w := do(t, router, http.MethodPatch, "/nodes/"+n.ID, UpdateNodeRequest{Name: &name, Status: &status})
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d, body = %s", w.Code, w.Body.String())
	}
	var got Node
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Name != "final" || got.Status != models.StatusBlocked {
		t.Errorf("updated = %+v", got)
	}

	bad := "maybe"
	if w := do(t, router, http.MethodPatch, "/nodes/"+n.ID, UpdateNodeRequest{Status: &bad}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid status = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodPatch, "/nodes/"+n.ID, UpdateNodeRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty update = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodPatch, "/nodes/ghost", UpdateNodeRequest{Name: &name}); w.Code != http.StatusNotFound {
		t.Errorf("update missing = %d, want 404", w.Code)
	}
}

func TestDeleteNode(t *testing.T) {
	env, router := testEnv(t, "")
	dir := createNode(t, router, "dir", "folder", env.RootID())
	_ = createNode(t, router, "f", "file", dir.ID)

	w := do(t, router, http.MethodDelete, "/nodes/"+dir.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete = %d", w.Code)
	}
	var res DeleteResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if len(res.Removed) != 2 {
		t.Errorf("removed = %v", res.Removed)
	}

	if w := do(t, router, http.MethodGet, "/nodes/"+dir.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("get deleted = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/nodes/"+dir.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("delete twice = %d, want 404", w.Code)
	}
}

func TestChildrenAndAncestors(t *testing.T) {
	env, router := testEnv(t, "")
	a := createNode(t, router, "a", "folder", env.RootID())
	b := createNode(t, router, "b", "file", a.ID)

	w := do(t, router, http.MethodGet, "/nodes/"+env.RootID()+"/children", nil)
	var kids NodeListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &kids)
	if len(kids.Nodes) != 1 || kids.Nodes[0].ID != a.ID {
		t.Errorf("children = %+v", kids.Nodes)
	}

	w = do(t, router, http.MethodGet, "/nodes/"+b.ID+"/ancestors", nil)
	var chain NodeListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &chain)
	if len(chain.Nodes) != 2 || chain.Nodes[0].ID != a.ID || chain.Nodes[1].ID != env.RootID() {
		t.Errorf("ancestors = %+v", chain.Nodes)
	}

	if w := do(t, router, http.MethodGet, "/nodes/ghost/children", nil); w.Code != http.StatusNotFound {
		t.Errorf("children of missing = %d, want 404", w.Code)
	}
}

func TestMoveNode(t *testing.T) {
	env, router := testEnv(t, "")
	a := createNode(t, router, "a", "folder", env.RootID())
	b := createNode(t, router, "b", "folder", a.ID)

	if w := do(t, router, http.MethodPost, "/nodes/"+a.ID+"/move", MoveNodeRequest{ParentID: b.ID}); w.Code != http.StatusConflict {
		t.Errorf("move into descendant = %d, want 409", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/nodes/"+env.RootID()+"/move", MoveNodeRequest{ParentID: a.ID}); w.Code != http.StatusConflict {
		t.Errorf("move root = %d, want 409", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/nodes/"+b.ID+"/move", MoveNodeRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("move without parent = %d, want 400", w.Code)
	}

	w := do(t, router, http.MethodPost, "/nodes/"+b.ID+"/move", MoveNodeRequest{ParentID: env.RootID()})
	if w.Code != http.StatusOK {
		t.Fatalf("move = %d, body = %s", w.Code, w.Body.String())
	}
	var moved Node
	_ = json.Unmarshal(w.Body.Bytes(), &moved)
	if moved.ParentID != env.RootID() {
		t.Errorf("parent = %q", moved.ParentID)
	}
}

func TestDuplicateNode(t *testing.T) {
	env, router := testEnv(t, "")
	a := createNode(t, router, "a", "folder", env.RootID())

	w := do(t, router, http.MethodPost, "/nodes/"+a.ID+"/duplicate", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("duplicate = %d", w.Code)
	}
	var cp Node
	_ = json.Unmarshal(w.Body.Bytes(), &cp)
	if cp.Name != "a (copy)" {
		t.Errorf("copy name = %q", cp.Name)
	}
	if w := do(t, router, http.MethodPost, "/nodes/"+env.RootID()+"/duplicate", nil); w.Code != http.StatusConflict {
		t.Errorf("duplicate root = %d, want 409", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env, router := testEnv(t, "")
	_ = createNode(t, router, "f", "file", env.RootID())

	w := do(t, router, http.MethodGet, "/stats", nil)
	var st StatsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if st.TotalNodes != 2 || st.Files != 1 || st.Folders != 1 || st.RootID != env.RootID() {
		t.Errorf("stats = %+v", st)
	}
}

func TestSearchEndpoint(t *testing.T) {
	env, router := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/nodes", CreateNodeRequest{
		Name: "s", Type: "file", ParentID: env.RootID(), Markdown: "uniqueword appears here #findme",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}

	w = do(t, router, http.MethodGet, "/search?q=uniqueword", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || resp.Results[0].Name != "s" {
		t.Errorf("results = %+v", resp.Results)
	}

	w = do(t, router, http.MethodGet, "/tags", nil)
	var tags TagsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &tags)
	if len(tags.Tags) != 1 || tags.Tags[0].Tag != "findme" {
		t.Errorf("tags = %+v", tags.Tags)
	}

	w = do(t, router, http.MethodGet, "/nodes?tag=findme&type=file", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"name":"s"`) {
		t.Errorf("filtered list = %d %s", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodGet, "/nodes?status=later", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad status filter = %d, want 400", w.Code)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestQueryEndpoint(t *testing.T) {
	env, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/query?expr=$.root_id", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("query = %d", w.Code)
	}
	var resp QueryResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || resp.Results[0] != env.RootID() {
		t.Errorf("results = %v", resp.Results)
	}

	if w := do(t, router, http.MethodGet, "/query?expr=%24.nodes%5B%3F(", nil); w.Code != http.StatusBadRequest {
		t.Errorf("invalid expr = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/query", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing expr = %d, want 400", w.Code)
	}
}

func TestIntegrityEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/integrity", nil)
	var resp struct {
		Consistent bool  `json:"consistent"`
		Issues     []any `json:"issues"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Consistent || resp.Issues == nil || len(resp.Issues) != 0 {
		t.Errorf("integrity = %s", w.Body.String())
	}
}

func TestImportAndExport(t *testing.T) {
	env, router := testEnv(t, "")

	outline := "plan/\n  step one [done]\n  step two\n"
	req := httptest.NewRequest(http.MethodPost, "/import?parent_id="+env.RootID(), strings.NewReader(outline))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("import = %d, body = %s", w.Code, w.Body.String())
	}
	var imp ImportResponse
	_ = json.Unmarshal(w.Body.Bytes(), &imp)
	if len(imp.Created) != 1 {
		t.Fatalf("created = %v", imp.Created)
	}

	w = do(t, router, http.MethodGet, "/export?id="+imp.Created[0]+"&download=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d", w.Code)
	}
	if got := w.Body.String(); got != "plan/ [⬜]\n  step one [✅]\n  step two [⬜]\n" {
		t.Errorf("export = %q", got)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("content type = %q", w.Header().Get("Content-Type"))
	}
	if w.Header().Get("Content-Disposition") == "" {
		t.Error("download should set Content-Disposition")
	}

	if w := do(t, router, http.MethodGet, "/export?id=ghost", nil); w.Code != http.StatusNotFound {
		t.Errorf("export missing = %d, want 404", w.Code)
	}
}

func uploadOutline(t *testing.T, router http.Handler, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "outline.txt")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.WriteString(part, content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestImport_Multipart(t *testing.T) {
	env, router := testEnv(t, "")
	w := uploadOutline(t, router, "a\nb\n")
	if w.Code != http.StatusCreated {
		t.Fatalf("multipart import = %d, body = %s", w.Code, w.Body.String())
	}
	if got := env.Store.CountNodes(); got != 3 {
		t.Errorf("nodes = %d, want 3", got)
	}
}

func TestImport_Errors(t *testing.T) {
	_, router := testEnv(t, "")

	if w := uploadOutline(t, router, "file.txt\n  nested\n"); w.Code != http.StatusConflict {
		t.Errorf("nested under file = %d, want 409", w.Code)
	}
	if w := uploadOutline(t, router, "bad|name\n"); w.Code != http.StatusBadRequest {
		t.Errorf("invalid name = %d, want 400", w.Code)
	}
	if w := uploadOutline(t, router, "  \n"); w.Code != http.StatusBadRequest {
		t.Errorf("empty outline = %d, want 400", w.Code)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("other", "x")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing file field = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	env, router := testEnv(t, "secret123")

	body, _ := json.Marshal(CreateNodeRequest{Name: "auth", Type: "file", ParentID: env.RootID()})
	req := httptest.NewRequest(http.MethodPost, "/nodes", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/workspace", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/workspace", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/workspace", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint tests.

// testEnvWithSSE mounts a real broker at /events.
func testEnvWithSSE(t *testing.T, authEnabled bool, token string) (*sse.Broker, http.Handler) {
	t.Helper()
	env := testutil.TestService(t)
	broker := sse.NewBroker(time.Hour)
	t.Cleanup(broker.Close)
	return broker, NewRouter(env.Service, authEnabled, token, broker)
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "secret")

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_AuthDisabled(t *testing.T) {
	_, router := testEnvWithSSE(t, false, "")

	// The SSE handler blocks until the request context is done.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE disabled auth = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
