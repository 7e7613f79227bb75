package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/overseer/internal/agents"
	"github.com/nidhogg/overseer/internal/pipeline"
	"github.com/nidhogg/overseer/internal/plugin"
	"github.com/nidhogg/overseer/internal/runtime"
	"github.com/nidhogg/overseer/internal/sandbox"
	"github.com/nidhogg/overseer/internal/store"
)

// newTestServer wires a Handler with in-memory deps (no Redis/Postgres).
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()

	sb := sandbox.New(sandbox.Config{AllowedPaths: []string{t.TempDir()}}, logger)
	rt := runtime.New(runtime.Config{
		MaxConcurrentAgents: 4,
		MaxExecutionTime:    30 * time.Second,
		WorkspaceDir:        t.TempDir(),
	}, logger)
	t.Cleanup(func() { _ = rt.Cleanup(context.Background(), false) })

	processor := pipeline.NewProcessor(logger)
	registry := plugin.NewRegistry(logger)

	h := NewHandler(rt, agents.Factories(sb, logger), processor, store.NewMemory(), registry, logger)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestAgentLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/api/agents", map[string]any{
		"type":   "eval",
		"params": map[string]any{"expression": "2 + 2"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	var created map[string]string
	decodeJSON(t, resp, &created)
	id := created["execution_id"]
	if id == "" {
		t.Fatal("no execution_id returned")
	}

	deadline := time.Now().Add(2 * time.Second)
	var snap runtime.Snapshot
	for time.Now().Before(deadline) {
		resp = getJSON(t, ts, "/api/agents/"+id)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get status = %d", resp.StatusCode)
		}
		decodeJSON(t, resp, &snap)
		if snap.Status == runtime.TaskCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if snap.Status != runtime.TaskCompleted {
		t.Fatalf("task status = %s", snap.Status)
	}
	if snap.Result["value"] != float64(4) {
		t.Fatalf("result = %v", snap.Result)
	}

	resp = getJSON(t, ts, "/api/agents?status=completed")
	var snaps []runtime.Snapshot
	decodeJSON(t, resp, &snaps)
	if len(snaps) != 1 {
		t.Fatalf("listed %d completed agents", len(snaps))
	}
}

func TestStartAgentErrors(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/api/agents", map[string]any{"type": "warp"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown type status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/agents", map[string]any{"type": "command"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing params status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/agents/no-such-id")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown agent status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStopAgent(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/api/agents", map[string]any{
		"type":   "command",
		"params": map[string]any{"command": "sleep 10"},
	})
	var created map[string]string
	decodeJSON(t, resp, &created)

	resp = doJSON(t, ts, http.MethodDelete, "/api/agents/"+created["execution_id"], nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	var stopped map[string]bool
	decodeJSON(t, resp, &stopped)
	if !stopped["stopped"] {
		t.Fatal("agent not reported stopped")
	}
}

func TestRuleRoutes(t *testing.T) {
	ts := newTestServer(t)

	resp := getJSON(t, ts, "/api/rules")
	var rules []ruleView
	decodeJSON(t, resp, &rules)
	if len(rules) != 2 {
		t.Fatalf("got %d default rules", len(rules))
	}

	resp = postJSON(t, ts, "/api/rules/filter_empty/disable", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/rules?stage=filtered")
	decodeJSON(t, resp, &rules)
	if len(rules) != 1 || rules[0].Enabled {
		t.Fatalf("filtered rules = %+v", rules)
	}

	resp = postJSON(t, ts, "/api/rules/no_such_rule/enable", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("enable missing status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, ts, http.MethodDelete, "/api/rules/add_timestamp", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStrategyRoutes(t *testing.T) {
	ts := newTestServer(t)

	resp := getJSON(t, ts, "/api/strategy")
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["strategy"] != "sequential" {
		t.Fatalf("default strategy = %q", body["strategy"])
	}

	resp = doJSON(t, ts, http.MethodPut, "/api/strategy", map[string]string{"strategy": "batch"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, ts, http.MethodPut, "/api/strategy", map[string]string{"strategy": "bogus"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus strategy status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestResultRoutes(t *testing.T) {
	ts := newTestServer(t)

	resp := getJSON(t, ts, "/api/results")
	var records []store.Record
	decodeJSON(t, resp, &records)
	if len(records) != 0 {
		t.Fatalf("fresh store has %d records", len(records))
	}

	resp = getJSON(t, ts, "/api/results/summary")
	var summary store.Summary
	decodeJSON(t, resp, &summary)
	if summary.Total != 0 {
		t.Fatalf("summary total = %d", summary.Total)
	}

	resp = doJSON(t, ts, http.MethodDelete, "/api/results", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

type pingPlugin struct{}

func (pingPlugin) Name() string              { return "ping" }
func (pingPlugin) Version() string           { return "0.1.0" }
func (pingPlugin) Description() string       { return "replies pong" }
func (pingPlugin) Init(map[string]any) error { return nil }

func (pingPlugin) Methods() map[string]plugin.Method {
	return map[string]plugin.Method{
		"ping": func(_ context.Context, params map[string]any) (*plugin.Result, error) {
			return plugin.OK(map[string]any{"pong": params["n"]}), nil
		},
	}
}

func TestPluginRoutes(t *testing.T) {
	logger := zap.NewNop()
	sb := sandbox.New(sandbox.Config{}, logger)
	rt := runtime.New(runtime.Config{WorkspaceDir: t.TempDir()}, logger)
	registry := plugin.NewRegistry(logger)
	if err := registry.Register(pingPlugin{}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	h := NewHandler(rt, agents.Factories(sb, logger), pipeline.NewProcessor(logger), store.NewMemory(), registry, logger)
	ts := httptest.NewServer(h.Router())
	defer ts.Close()

	resp := getJSON(t, ts, "/api/plugins")
	var infos []plugin.Info
	decodeJSON(t, resp, &infos)
	if len(infos) != 1 || infos[0].Name != "ping" {
		t.Fatalf("plugins = %+v", infos)
	}

	resp = postJSON(t, ts, "/api/plugins/ping/ping", map[string]any{"n": 7})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status = %d", resp.StatusCode)
	}
	var result plugin.Result
	decodeJSON(t, resp, &result)
	if !result.Success || result.Data["pong"] != float64(7) {
		t.Fatalf("result = %+v", result)
	}

	resp = postJSON(t, ts, "/api/plugins/ghost/ping", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown plugin status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}
