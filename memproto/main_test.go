package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"memproto/internal/cli/config"
)

func TestCmdMemoryStoreSendsRequest(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/memory" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer access-1" {
			t.Errorf("unexpected auth header: %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "mem-1"})
	}))
	defer srv.Close()

	writeCLIConfig(t, srv.URL, "access-1", "refresh-1")

	out, err := captureStdout(t, func() error {
		return cmdMemoryStore(context.Background(), []string{
			"agent-1", "remember the milk",
			"--type", "facts",
			"--metadata", "session=abc",
			"--quiet",
		})
	})
	if err != nil {
		t.Fatalf("cmdMemoryStore returned error: %v", err)
	}
	if out != "mem-1\n" {
		t.Fatalf("unexpected output: %q", out)
	}
	want := map[string]any{
		"agentId":  "agent-1",
		"type":     "facts",
		"content":  "remember the milk",
		"metadata": map[string]any{"session": "abc"},
	}
	gotJSON, _ := json.Marshal(got)
	wantJSON, _ := json.Marshal(want)
	if string(gotJSON) != string(wantJSON) {
		t.Fatalf("request body = %s, want %s", gotJSON, wantJSON)
	}
}

func TestCmdAgentsListRefreshesOnUnauthorized(t *testing.T) {
	var refreshCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/refresh":
			refreshCalls++
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["refreshToken"] != "refresh-1" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{
				"accessToken":  "access-2",
				"refreshToken": "refresh-2",
			})
		case "/api/agents":
			if r.Header.Get("Authorization") != "Bearer access-2" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Token expired"})
				return
			}
			_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "agent-1", "name": "planner"}})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	home := writeCLIConfig(t, srv.URL, "access-1", "refresh-1")

	out, err := captureStdout(t, func() error {
		return cmdAgentsList(context.Background(), []string{"--format", "plain"})
	})
	if err != nil {
		t.Fatalf("cmdAgentsList returned error: %v", err)
	}
	if out != "agent-1 planner\n" {
		t.Fatalf("unexpected output: %q", out)
	}
	if refreshCalls != 1 {
		t.Fatalf("refresh calls = %d, want 1", refreshCalls)
	}

	cfg, err := config.LoadFromPath(filepath.Join(home, ".memproto", "config.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	srvCfg, _ := cfg.Default()
	if srvCfg.AccessToken != "access-2" || srvCfg.RefreshToken != "refresh-2" {
		t.Fatalf("tokens not persisted: %+v", srvCfg)
	}
}

func TestCmdConnectFallsBackToLoginOnConflict(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/api/auth/register":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "User already exists"})
		case "/api/auth/login":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"accessToken":  "access-9",
				"refreshToken": "refresh-9",
			})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	home := setCLIEnv(t)

	out, err := captureStdout(t, func() error {
		return cmdConnect(context.Background(), []string{
			srv.URL + "/", "--email", "agent@example.com", "--password", "pw", "--name", "Test Agent",
		}, true)
	})
	if err != nil {
		t.Fatalf("cmdConnect returned error: %v", err)
	}
	if !strings.HasPrefix(out, "connected to "+srv.URL) {
		t.Fatalf("unexpected output: %q", out)
	}
	if strings.Join(paths, ",") != "/api/auth/register,/api/auth/login" {
		t.Fatalf("unexpected call sequence: %v", paths)
	}

	cfg, err := config.LoadFromPath(filepath.Join(home, ".memproto", "config.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	srvCfg, ok := cfg.Default()
	if !ok {
		t.Fatalf("expected default server")
	}
	if srvCfg.URL != srv.URL || srvCfg.Email != "agent@example.com" || srvCfg.AccessToken != "access-9" {
		t.Fatalf("unexpected saved server: %+v", srvCfg)
	}
}

func TestCmdConnectReportsOtherRegisterErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "password too short"})
	}))
	defer srv.Close()
	setCLIEnv(t)

	err := cmdConnect(context.Background(), []string{
		srv.URL, "--email", "a@b.c", "--password", "x", "--name", "n",
	}, true)
	if err == nil || !strings.Contains(err.Error(), "http 400: password too short") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCmdHealthRequiresConnection(t *testing.T) {
	setCLIEnv(t)

	err := cmdHealth(context.Background(), nil)
	if err == nil {
		t.Fatalf("expected error when not connected")
	}
	if !strings.Contains(err.Error(), "not connected") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCmdMemoryListBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("agentId") != "agent-1" || q.Get("limit") != "5" || q.Get("type") != "facts" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "mem-1", "agentId": "agent-1", "type": "facts", "content": "one"},
			{"id": "mem-2", "agentId": "agent-1", "type": "facts", "content": "two"},
		})
	}))
	defer srv.Close()
	writeCLIConfig(t, srv.URL, "access-1", "refresh-1")

	out, err := captureStdout(t, func() error {
		return cmdMemoryList(context.Background(), []string{"agent-1", "--type=facts", "--limit", "5", "-q"})
	})
	if err != nil {
		t.Fatalf("cmdMemoryList returned error: %v", err)
	}
	if out != "mem-1\nmem-2\n" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestParseCSVUnique(t *testing.T) {
	got := parseCSVUnique([]string{"plan, recall", "plan", " ", "search"})
	if strings.Join(got, "|") != "plan|recall|search" {
		t.Fatalf("parseCSVUnique = %v", got)
	}
	if parseCSVUnique(nil) != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func setCLIEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("MEMPROTO_URL", "")
	t.Setenv("MEMPROTO_ACCESS_TOKEN", "")
	t.Setenv("MEMPROTO_REFRESH_TOKEN", "")

	cwd := t.TempDir()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(cwd); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(prev)
	})
	return home
}

func writeCLIConfig(t *testing.T, serverURL, accessToken, refreshToken string) string {
	t.Helper()
	home := setCLIEnv(t)
	cfgPath := filepath.Join(home, ".memproto", "config.json")
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}

	payload := map[string]any{
		"version":        1,
		"default_server": "main",
		"servers": map[string]any{
			"main": map[string]any{
				"url":           serverURL,
				"email":         "agent@example.com",
				"access_token":  accessToken,
				"refresh_token": refreshToken,
				"connected_at":  "2026-02-16T00:00:00Z",
			},
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(cfgPath, b, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return home
}

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("create stdout pipe: %v", err)
	}

	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = orig

	out, readErr := io.ReadAll(r)
	_ = r.Close()
	if readErr != nil {
		t.Fatalf("read stdout: %v", readErr)
	}
	return string(out), runErr
}

func TestCmdRefreshKeepsSavedServerWhenURLComesFromEnv(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/refresh" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"accessToken":  "env-access-2",
			"refreshToken": "env-refresh-2",
		})
	}))
	defer srv.Close()

	home := writeCLIConfig(t, "https://saved.example", "saved-access", "saved-refresh")
	cfgPath := filepath.Join(home, ".memproto", "config.json")
	before, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	t.Setenv("MEMPROTO_URL", srv.URL)
	t.Setenv("MEMPROTO_REFRESH_TOKEN", "env-refresh-1")

	out, err := captureStdout(t, func() error {
		return cmdRefresh(context.Background(), nil)
	})
	if err != nil {
		t.Fatalf("cmdRefresh returned error: %v", err)
	}
	if out != "session refreshed\n" {
		t.Fatalf("unexpected output: %q", out)
	}

	after, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if string(after) != string(before) {
		t.Fatalf("config rewritten with environment session:\n%s", after)
	}
}

func TestResolveBodyInputKeepsWhitespace(t *testing.T) {
	got, err := resolveBodyInput([]string{"  indented\n"}, "")
	if err != nil {
		t.Fatalf("resolveBodyInput: %v", err)
	}
	if got != "  indented\n" {
		t.Fatalf("content = %q", got)
	}

	p := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(p, []byte("line one\n\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err = resolveBodyInput(nil, p)
	if err != nil {
		t.Fatalf("resolveBodyInput from file: %v", err)
	}
	if got != "line one\n\n" {
		t.Fatalf("file content = %q", got)
	}

	if _, err := resolveBodyInput([]string{" \t\n"}, ""); err == nil {
		t.Fatalf("expected error for blank content")
	}
}
