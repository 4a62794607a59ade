package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/samsaffron/enrich/internal/auth"
	"github.com/samsaffron/enrich/internal/semcache"
	"github.com/samsaffron/enrich/internal/sqlagent"
)

type fakeAgent struct {
	initialized bool
	initOpts    sqlagent.InitOptions
	questions   []string
	askErr      error
}

func (a *fakeAgent) Initialize(ctx context.Context, opts sqlagent.InitOptions) (sqlagent.InitResult, error) {
	a.initialized = true
	a.initOpts = opts
	id := opts.SessionID
	if id == "" {
		id = "generated"
	}
	return sqlagent.InitResult{SessionID: id, Message: sqlagent.InitializedMessage}, nil
}

func (a *fakeAgent) Ask(ctx context.Context, question string) (string, error) {
	if !a.initialized {
		return "", sqlagent.ErrNotInitialized
	}
	if a.askErr != nil {
		return "", a.askErr
	}
	a.questions = append(a.questions, question)
	return "answer to " + question, nil
}

func (a *fakeAgent) CacheStats() semcache.Stats {
	return semcache.Stats{Hits: 2, Misses: 5}
}

func newTestServer(t *testing.T, agent Agent) (*httptest.Server, *auth.Issuer) {
	t.Helper()
	users, err := auth.ParseUsers([]string{"alice:wonderland"})
	if err != nil {
		t.Fatal(err)
	}
	issuer, err := auth.NewIssuer("test-secret", "enrich", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(Config{Prefix: "/sales/"}, agent, users, issuer, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, issuer
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func do(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, &fakeAgent{})
	resp := do(t, http.MethodGet, ts.URL+"/healthz", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["status"]; got != "ok" {
		t.Fatalf("status=%v", got)
	}
}

func TestTokenFlow(t *testing.T) {
	ts, issuer := newTestServer(t, &fakeAgent{})

	form := url.Values{"username": {"alice"}, "password": {"wonderland"}, "grant_type": {"password"}}
	resp, err := http.PostForm(ts.URL+"/text2sql/token", form)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["token_type"] != "bearer" {
		t.Fatalf("token_type=%v", body["token_type"])
	}
	claims, err := issuer.Verify(body["access_token"].(string))
	if err != nil || claims.Subject != "alice" {
		t.Fatalf("claims=%+v err=%v", claims, err)
	}

	resp = do(t, http.MethodPost, ts.URL+"/text2sql/token", "", `{"username":"alice","password":"wonderland"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("json login status=%d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTokenRejectsBadPassword(t *testing.T) {
	ts, _ := newTestServer(t, &fakeAgent{})
	resp, err := http.PostForm(ts.URL+"/text2sql/token", url.Values{"username": {"alice"}, "password": {"nope"}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got != "Bearer" {
		t.Fatalf("WWW-Authenticate=%q", got)
	}
	if got := decodeBody(t, resp)["detail"]; got != "Incorrect username or password" {
		t.Fatalf("detail=%v", got)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts, _ := newTestServer(t, &fakeAgent{})
	other, err := auth.NewIssuer("other-secret", "enrich", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	forged, _ := other.Issue("alice")

	routes := []struct{ method, path string }{
		{http.MethodPost, "/sales/initialize"},
		{http.MethodPost, "/sales/ask"},
		{http.MethodGet, "/sales/cache/stats"},
	}
	for _, route := range routes {
		for name, token := range map[string]string{"missing": "", "forged": forged, "garbage": "abc"} {
			t.Run(route.path+"/"+name, func(t *testing.T) {
				resp := do(t, route.method, ts.URL+route.path, token, "")
				if resp.StatusCode != http.StatusUnauthorized {
					t.Fatalf("status=%d, want 401", resp.StatusCode)
				}
				if got := decodeBody(t, resp)["detail"]; got != "Could not validate credentials" {
					t.Fatalf("detail=%v", got)
				}
			})
		}
	}
}

func TestAgentRoutes(t *testing.T) {
	agent := &fakeAgent{}
	ts, issuer := newTestServer(t, agent)
	token, err := issuer.Issue("alice")
	if err != nil {
		t.Fatal(err)
	}

	resp := do(t, http.MethodGet, ts.URL+"/sales/", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("root status=%d", resp.StatusCode)
	}
	if msg, _ := decodeBody(t, resp)["message"].(string); !strings.Contains(msg, "sales") {
		t.Fatalf("message=%q", msg)
	}

	resp = do(t, http.MethodPost, ts.URL+"/sales/ask", token, `{"question":"how many?"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("ask before init status=%d, want 400", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["detail"]; got != "agent not initialized" {
		t.Fatalf("detail=%v", got)
	}

	resp = do(t, http.MethodPost, ts.URL+"/sales/initialize", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize status=%d", resp.StatusCode)
	}
	want := map[string]any{"status": "success", "response": "Agent initialized successfully", "session_id": "generated"}
	if diff := cmp.Diff(want, decodeBody(t, resp)); diff != "" {
		t.Fatalf("initialize body (-want +got):\n%s", diff)
	}

	resp = do(t, http.MethodPost, ts.URL+"/sales/initialize", token, `{"use_guardrails":true,"session_id":"s-1"}`)
	resp.Body.Close()
	if g := agent.initOpts.UseGuardrails; g == nil || !*g || agent.initOpts.SessionID != "s-1" {
		t.Fatalf("initOpts=%+v", agent.initOpts)
	}

	resp = do(t, http.MethodPost, ts.URL+"/sales/ask", token, `{"question":"how many?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ask status=%d", resp.StatusCode)
	}
	if diff := cmp.Diff(map[string]any{"status": "success", "response": "answer to how many?"}, decodeBody(t, resp)); diff != "" {
		t.Fatalf("ask body (-want +got):\n%s", diff)
	}

	resp = do(t, http.MethodGet, ts.URL+"/sales/cache/stats", token, "")
	body := decodeBody(t, resp)
	stats, _ := body["response"].(map[string]any)
	if stats["cache_hits"] != float64(2) || stats["cache_misses"] != float64(5) {
		t.Fatalf("stats=%v", body)
	}
}

func TestAskAgentError(t *testing.T) {
	agent := &fakeAgent{initialized: true, askErr: errors.New("run query: relation \"x\" does not exist")}
	ts, issuer := newTestServer(t, agent)
	token, _ := issuer.Issue("alice")

	resp := do(t, http.MethodPost, ts.URL+"/sales/ask", token, `{"question":"q"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["detail"]; got != `run query: relation "x" does not exist` {
		t.Fatalf("detail=%v", got)
	}

	resp = do(t, http.MethodPost, ts.URL+"/sales/ask", token, `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad json status=%d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCORS(t *testing.T) {
	ts, _ := newTestServer(t, &fakeAgent{})

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/sales/ask", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "authorization,content-type")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status=%d, want 204", resp.StatusCode)
	}
	checks := map[string]string{
		"Access-Control-Allow-Origin":      "https://app.example",
		"Access-Control-Allow-Credentials": "true",
		"Access-Control-Allow-Headers":     "authorization,content-type",
	}
	for h, want := range checks {
		if got := resp.Header.Get(h); got != want {
			t.Fatalf("%s=%q, want %q", h, got, want)
		}
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	srv := NewServer(Config{CORSOrigins: []string{"https://ok.example"}}, &fakeAgent{}, nil, nil, nil)
	h := srv.Handler()

	for origin, want := range map[string]string{"https://ok.example": "https://ok.example", "https://evil.example": ""} {
		req := httptest.NewRequest(http.MethodGet, "/agent_name/", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Fatalf("origin %s: allow=%q, want %q", origin, got, want)
		}
	}
}

func TestUnknownPathUnderPrefix(t *testing.T) {
	srv := NewServer(Config{}, &fakeAgent{}, nil, nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agent_name/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}
