//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("OVERSEER_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func postJSON(t *testing.T, path string, body any, out any) int {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(baseURL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(baseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestSmokeHealth(t *testing.T) {
	var body map[string]string
	if code := getJSON(t, "/api/health", &body); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("health body = %v", body)
	}
}

func TestSmokeAgentRoundTrip(t *testing.T) {
	var created map[string]string
	code := postJSON(t, "/api/agents", map[string]any{
		"type":   "eval",
		"params": map[string]any{"expression": "6 * 7"},
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("start status = %d", code)
	}
	id := created["execution_id"]
	if id == "" {
		t.Fatal("no execution_id")
	}

	deadline := time.Now().Add(10 * time.Second)
	var snap struct {
		Status string         `json:"status"`
		Result map[string]any `json:"result"`
	}
	for time.Now().Before(deadline) {
		if code := getJSON(t, "/api/agents/"+id, &snap); code != http.StatusOK {
			t.Fatalf("get status = %d", code)
		}
		if snap.Status == "completed" || snap.Status == "error" {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if snap.Status != "completed" {
		t.Fatalf("final status = %s", snap.Status)
	}
	if snap.Result["value"] != float64(42) {
		t.Fatalf("result = %v", snap.Result)
	}
}

func TestSmokeRulesAndStrategy(t *testing.T) {
	var rules []map[string]any
	if code := getJSON(t, "/api/rules", &rules); code != http.StatusOK {
		t.Fatalf("rules status = %d", code)
	}
	if len(rules) == 0 {
		t.Fatal("no default rules exposed")
	}

	var strategy map[string]string
	if code := getJSON(t, "/api/strategy", &strategy); code != http.StatusOK {
		t.Fatalf("strategy status = %d", code)
	}
	if strategy["strategy"] == "" {
		t.Fatal("empty strategy")
	}
}

func TestSmokeResults(t *testing.T) {
	var summary struct {
		Total int `json:"total"`
	}
	if code := getJSON(t, "/api/results/summary", &summary); code != http.StatusOK {
		t.Fatalf("summary status = %d", code)
	}
	if summary.Total < 0 {
		t.Fatalf("summary total = %d", summary.Total)
	}
}
