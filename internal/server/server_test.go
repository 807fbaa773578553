package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"phaseline/internal/db"
	"phaseline/internal/engine"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	st, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	e := engine.New(st)
	e.Now = func() time.Time { return time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC) }
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/api/v1",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
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
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			st.DB().Close()
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
	req.Header.Set("X-Actor-Id", "alice")
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

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/projects", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	healthRes, err := srv.Client().Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	healthRes.Body.Close()
	if healthRes.StatusCode != http.StatusOK {
		t.Fatalf("health should skip auth, got %d", healthRes.StatusCode)
	}
}

func TestProjectLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/projects", map[string]any{
		"name":     "Billing revamp",
		"deadline": "2026-03-01",
		"tasks": []map[string]any{
			{"name": "build", "completed": true},
			{"name": "ship"},
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created ProjectResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Progress != 43 {
		t.Fatalf("progress = %d, want 43", created.Progress)
	}
	if created.OwnerID != "alice" {
		t.Fatalf("owner = %q", created.OwnerID)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/projects", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var listed []ProjectResponse
	if err := json.Unmarshal(data, &listed); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 project, got %d", len(listed))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/v1/projects/"+created.ID, map[string]any{
		"status": "Done",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(data))
	}

	// done projects hide from the unfiltered listing
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/projects", nil, nil)
	_ = json.Unmarshal(data, &listed)
	if len(listed) != 0 {
		t.Fatalf("done project still listed: %s", string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/projects?status=Done", nil, nil)
	_ = json.Unmarshal(data, &listed)
	if len(listed) != 1 {
		t.Fatalf("status filter should show done project: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/api/v1/projects/"+created.ID, nil, nil)
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/projects/"+created.ID, nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d: %s", res.StatusCode, string(data))
	}
}

func TestValidationEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/projects", map[string]any{
		"name":     "",
		"deadline": "soon",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("code = %q: %s", envelope.Error.Code, string(data))
	}
	problems, ok := envelope.Error.Details["problems"].([]any)
	if !ok || len(problems) != 2 {
		t.Fatalf("expected 2 problems, got %v", envelope.Error.Details)
	}
}

func TestTransitionFlowHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/projects", map[string]any{
		"name":     "Gated rollout",
		"deadline": "2026-03-01",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var p ProjectResponse
	_ = json.Unmarshal(data, &p)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/projects/"+p.ID+"/members", map[string]any{
		"user_id": "bob",
		"role":    "admin",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add member: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/projects/"+p.ID+"/transitions", map[string]any{
		"to_phase": "INT",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("request transition: %d %s", res.StatusCode, string(data))
	}
	var tr TransitionResponse
	_ = json.Unmarshal(data, &tr)
	if tr.Status != "pending" {
		t.Fatalf("status = %q", tr.Status)
	}

	// the requester cannot approve their own request
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/transitions/"+tr.ID+"/review", map[string]any{
		"approved": true,
	}, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("self review: expected 403, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/transitions/"+tr.ID+"/review", map[string]any{
		"approved": true,
	}, map[string]string{"X-Actor-Id": "bob"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}

	// a second review conflicts
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/transitions/"+tr.ID+"/review", map[string]any{
		"approved": false,
	}, map[string]string{"X-Actor-Id": "bob"})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("re-review: expected 409, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/projects/"+p.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &p)
	if p.Phase != "INT" {
		t.Fatalf("phase = %q, want INT", p.Phase)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/projects/"+p.ID+"/transitions", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", res.StatusCode, string(data))
	}
	var history []TransitionResponse
	_ = json.Unmarshal(data, &history)
	if len(history) != 1 || history[0].Status != "approved" {
		t.Fatalf("history = %s", string(data))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/apikeys", map[string]any{
		"name": "ci",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key: %d %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if key.Key == "" {
		t.Fatalf("raw key missing")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/me", nil)
	req.Header.Set("X-Api-Key", key.Key)
	res2, err := client.Do(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	defer res2.Body.Close()
	body, _ := io.ReadAll(res2.Body)
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("me with api key: %d %s", res2.StatusCode, string(body))
	}
	var me map[string]any
	_ = json.Unmarshal(body, &me)
	if me["actor_id"] != "alice" || me["source"] != "api_key" {
		t.Fatalf("unexpected principal: %s", string(body))
	}
}
