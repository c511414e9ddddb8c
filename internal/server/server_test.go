package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"testing"

	"stitchline/internal/config"
	"stitchline/internal/db"
	"stitchline/internal/domain"
	"stitchline/internal/engine"
	"stitchline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test-site")
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			AllowLegacyActorHeader: true,
			Logger:                 log.New(io.Discard, "", 0),
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func workflowPayload() map[string]any {
	return map[string]any{
		"name": "Basic garment",
		"stages": []map[string]any{
			{
				"id":   "cut",
				"name": "Cutting",
				"actions": []map[string]any{
					{"id": "cut-scan", "type": "scan", "required": true},
				},
				"allowed_next_stage_ids": []string{"sew"},
			},
			{
				"id":                     "sew",
				"name":                   "Sewing",
				"allowed_next_stage_ids": []string{"pack"},
			},
			{
				"id":   "pack",
				"name": "Packing",
			},
		},
	}
}

func createWorkflowAndItem(t *testing.T, srv *testServer) (domain.Workflow, domain.Item) {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows", workflowPayload(), nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create workflow: %d %s", res.StatusCode, string(data))
	}
	var w domain.Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatalf("unmarshal workflow: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/orders", map[string]any{
		"workflow_id": w.ID,
		"customer":    "Acme Apparel",
		"item_specs":  []map[string]any{{"count": 1}},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit order: %d %s", res.StatusCode, string(data))
	}
	var po domain.PurchaseOrder
	_ = json.Unmarshal(data, &po)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/orders/"+po.ID+"/accept", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept order: %d %s", res.StatusCode, string(data))
	}
	var accepted AcceptOrderResponse
	if err := json.Unmarshal(data, &accepted); err != nil {
		t.Fatalf("unmarshal accept response: %v", err)
	}
	if len(accepted.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(accepted.Items))
	}
	return w, accepted.Items[0]
}

func TestItemLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, item := createWorkflowAndItem(t, srv)

	// missing scan blocks the move
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/advance", map[string]any{
		"to_stage_id": "sew",
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "missing_required_actions" {
		t.Fatalf("expected missing_required_actions, got %s", envelope.Error.Code)
	}

	// record evidence, then the move goes through
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/actions", map[string]any{
		"action_id": "cut-scan",
		"payload":   map[string]any{"station": "cut-3"},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("record action: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/advance", map[string]any{
		"to_stage_id": "sew",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advance: %d %s", res.StatusCode, string(data))
	}
	var moved domain.Item
	_ = json.Unmarshal(data, &moved)
	if moved.CurrentStageID != "sew" || moved.Version != 2 {
		t.Fatalf("unexpected item state: %+v", moved)
	}

	// pack is terminal, the item completes on arrival
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/advance", map[string]any{
		"to_stage_id": "pack",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advance to pack: %d %s", res.StatusCode, string(data))
	}
	var done domain.Item
	_ = json.Unmarshal(data, &done)
	if done.Status != "completed" || done.CompletedAt == nil {
		t.Fatalf("expected completed item, got %+v", done)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/items/"+item.ID+"/history", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", res.StatusCode, string(data))
	}
	var history []domain.Event
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history) < 4 || history[0].Type != "item.created" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestStaleConflictOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, item := createWorkflowAndItem(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/advance", map[string]any{
		"to_stage_id":          "sew",
		"completed_action_ids": []string{"cut-scan"},
		"expected_version":     1,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first advance: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/advance", map[string]any{
		"to_stage_id":      "pack",
		"expected_version": 1,
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
}

func TestWorkflowUsageGateOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	w, _ := createWorkflowAndItem(t, srv)

	res, data := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/workflows/"+w.ID, nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected delete to be blocked, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "workflow_in_use" {
		t.Fatalf("expected workflow_in_use, got %s", envelope.Error.Code)
	}
	if _, ok := envelope.Error.Details["active_item_ids"]; !ok {
		t.Fatalf("details missing active_item_ids: %v", envelope.Error.Details)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/workflows/"+w.ID+"/usage", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("usage: %d %s", res.StatusCode, string(data))
	}
	var usage domain.WorkflowUsage
	_ = json.Unmarshal(data, &usage)
	if usage.ActiveItemCount != 1 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
}

func TestTeamTaskFanOutOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, u := range []struct{ id, name string }{
		{"maria", "Maria"}, {"li", "Li"},
	} {
		res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/users/"+u.id, map[string]any{
			"name": u.name,
			"team": "sewing",
		}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("save user %s: %d %s", u.id, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"assign_to": []string{"team-sewing"},
		"title":     "Clear the rack",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("fan out: %d %s", res.StatusCode, string(data))
	}
	var created TaskListResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(created.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(created.Tasks))
	}

	// an empty team anywhere in the batch fails the whole batch
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"assign_to": []string{"maria", "team-cutting"},
		"title":     "Nobody there",
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty team, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?assigned_to=maria&status=pending", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list tasks: %d %s", res.StatusCode, string(data))
	}
	var after TaskListResponse
	if err := json.Unmarshal(data, &after); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(after.Tasks) != 1 {
		t.Fatalf("failed batch leaked tasks: %d for maria", len(after.Tasks))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/stats?target=team-sewing", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d %s", res.StatusCode, string(data))
	}
	var stats domain.TaskStats
	_ = json.Unmarshal(data, &stats)
	if stats.Total != 2 || stats.Pending != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/workflows", nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	// health stays open
	res2, err := srv.Client().Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatal(err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res2.StatusCode)
	}
}
