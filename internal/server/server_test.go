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

	"github.com/golang-jwt/jwt/v5"

	"agentops/internal/db"
	"agentops/internal/engine"
	"agentops/internal/llm"
	"agentops/internal/migrate"
	"agentops/internal/roundtable"
)

type noopCompleter struct{}

func (noopCompleter) Complete(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
	return "ok", nil
}

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	orchestrator := roundtable.New(conn, noopCompleter{})
	handler, err := New(Config{Engine: e, Roundtables: orchestrator, BasePath: "/v0", Auth: auth})
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

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestProposalLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/proposals", map[string]any{
		"agent_id": "scout",
		"title":    "Analyze release",
		"proposed_steps": []map[string]any{
			{"kind": "analyze", "payload": map[string]any{"topic": "release"}},
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created struct {
		Accepted   bool   `json:"accepted"`
		ProposalID string `json:"proposal_id"`
		Reason     string `json:"reason"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Accepted || created.Reason != "pending_review" {
		t.Fatalf("expected pending result, got %+v", created)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/proposals/"+created.ProposalID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/proposals/"+created.ProposalID+"/accept", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(data))
	}
	var accepted struct {
		Accepted  bool   `json:"accepted"`
		MissionID string `json:"mission_id"`
	}
	if err := json.Unmarshal(data, &accepted); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !accepted.Accepted || accepted.MissionID == "" {
		t.Fatalf("expected mission, got %+v", accepted)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/missions/"+accepted.MissionID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get mission status %d: %s", res.StatusCode, string(data))
	}
	var detail struct {
		Mission struct {
			Status string `json:"status"`
		} `json:"mission"`
		Steps []struct {
			Kind   string `json:"kind"`
			Status string `json:"status"`
		} `json:"steps"`
	}
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if detail.Mission.Status != "approved" || len(detail.Steps) != 1 || detail.Steps[0].Status != "queued" {
		t.Fatalf("unexpected mission detail: %+v", detail)
	}

	// a second accept hits the state guard
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/proposals/"+created.ProposalID+"/accept", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if errorCode(t, data) != "invalid_state" {
		t.Fatalf("expected invalid_state code: %s", string(data))
	}
}

func TestProposalNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/proposals/ghost/accept", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if errorCode(t, data) != "not_found" {
		t.Fatalf("expected not_found code: %s", string(data))
	}
}

func TestCreateProposalValidation(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/proposals", map[string]any{
		"agent_id":       "scout",
		"proposed_steps": []map[string]any{},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
}

func TestPolicyMergeOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/policies/auto_approve", map[string]any{
		"enabled":            true,
		"allowed_step_kinds": []string{"analyze"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/policies/auto_approve", map[string]any{
		"enabled": false,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second put status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/policies/auto_approve", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var policy struct {
		Key   string         `json:"key"`
		Value map[string]any `json:"value"`
	}
	if err := json.Unmarshal(data, &policy); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if enabled, _ := policy.Value["enabled"].(bool); enabled {
		t.Fatalf("expected merged enabled=false: %+v", policy.Value)
	}
	if _, ok := policy.Value["allowed_step_kinds"]; !ok {
		t.Fatalf("merge dropped allowed_step_kinds: %+v", policy.Value)
	}
}

func TestQueueRoundtable(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/roundtables", map[string]any{
		"format":       "watercooler",
		"topic":        "coffee",
		"participants": []string{"solo"},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for one participant, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/roundtables", map[string]any{
		"format":       "debate",
		"topic":        "shipping cadence",
		"participants": []string{"ana", "ben"},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("queue status %d: %s", res.StatusCode, string(data))
	}
	var session struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if session.Status != "pending" {
		t.Fatalf("expected pending session, got %+v", session)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/roundtables/"+session.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
}

func TestJWTGuardsMutations(t *testing.T) {
	secret := "test-secret"
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: secret})
	defer cleanup()
	client := srv.Client()

	// reads stay open
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/proposals", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected open read, got %d: %s", res.StatusCode, string(data))
	}

	body := map[string]any{
		"agent_id":       "scout",
		"title":          "guarded",
		"proposed_steps": []map[string]any{{"kind": "analyze"}},
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/proposals", body, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/proposals", body, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d: %s", res.StatusCode, string(data))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/proposals", body, map[string]string{
		"Authorization": "Bearer " + signed,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 with token, got %d: %s", res.StatusCode, string(data))
	}
}
