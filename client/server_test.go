package client

import (
	"encoding/json"
	"maps"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeServer is an in-memory stand-in for the Memory Protocol API. It records every
// request so tests can inspect headers and bodies.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
	users    map[string]string
	memories []map[string]any
	nextID   int
	issued   int
	// registerIssuesTokens makes register answer with a token pair.
	registerIssuesTokens bool
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   map[string]any
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		t:     t,
		users: map[string]string{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", f.handleHealth)
	mux.HandleFunc("/api/auth/register", f.handleRegister)
	mux.HandleFunc("/api/auth/login", f.handleLogin)
	mux.HandleFunc("/api/auth/refresh", f.handleRefresh)
	mux.HandleFunc("/api/agents", f.requireAuth(f.handleAgents))
	mux.HandleFunc("/api/memory", f.requireAuth(f.handleMemory))
	mux.HandleFunc("/api/memory/", f.requireAuth(f.handleMemoryItem))
	f.srv = httptest.NewServer(f.record(mux))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) URL() string { return f.srv.URL }

func (f *fakeServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
		}
		if r.Body != nil {
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				rec.Body = body
			}
		}
		f.mu.Lock()
		f.requests = append(f.requests, rec)
		f.mu.Unlock()
		// The body was consumed; handlers read it from the recording.
		next.ServeHTTP(w, r)
	})
}

func (f *fakeServer) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		f.t.Errorf("no requests recorded")
		return recordedRequest{}
	}
	return f.requests[len(f.requests)-1]
}

func (f *fakeServer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeServer) issuePair() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	n := strconv.Itoa(f.issued)
	return map[string]any{
		"accessToken":  "access-" + n,
		"refreshToken": "refresh-" + n,
	}
}

func (f *fakeServer) currentAccess() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "access-" + strconv.Itoa(f.issued)
}

// lastBody returns a copy of the last request body, so handlers can decorate their
// reply without changing the recording.
func (f *fakeServer) lastBody() map[string]any {
	return maps.Clone(f.last().Body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (f *fakeServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	body := f.lastBody()
	email, _ := body["email"].(string)
	password, _ := body["password"].(string)
	f.mu.Lock()
	_, exists := f.users[email]
	if !exists {
		f.users[email] = password
	}
	f.mu.Unlock()
	if exists {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "User already exists"})
		return
	}
	if !f.registerIssuesTokens {
		writeJSON(w, http.StatusCreated, map[string]any{"user": map[string]any{"email": email}})
		return
	}
	resp := f.issuePair()
	resp["user"] = map[string]any{"email": email}
	writeJSON(w, http.StatusCreated, resp)
}

func (f *fakeServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	body := f.lastBody()
	email, _ := body["email"].(string)
	password, _ := body["password"].(string)
	f.mu.Lock()
	stored, ok := f.users[email]
	f.mu.Unlock()
	if !ok || stored != password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, f.issuePair())
}

func (f *fakeServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, _ := f.lastBody()["refreshToken"].(string)
	f.mu.Lock()
	want := "refresh-" + strconv.Itoa(f.issued)
	f.mu.Unlock()
	if token != want {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "Invalid refresh token"})
		return
	}
	writeJSON(w, http.StatusOK, f.issuePair())
}

func (f *fakeServer) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+f.currentAccess() {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
			return
		}
		next(w, r)
	}
}

func (f *fakeServer) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		body := f.lastBody()
		body["id"] = "agent-1"
		writeJSON(w, http.StatusCreated, body)
	default:
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "agent-1", "name": "first"}})
	}
}

func (f *fakeServer) handleMemory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		body := f.lastBody()
		f.mu.Lock()
		f.nextID++
		body["id"] = "mem-" + strconv.Itoa(f.nextID)
		f.memories = append(f.memories, body)
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, body)
	default:
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		out := []map[string]any{}
		f.mu.Lock()
		for _, m := range f.memories {
			if m["agentId"] != q.Get("agentId") {
				continue
			}
			if typ := q.Get("type"); typ != "" && m["type"] != typ {
				continue
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, m)
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, out)
	}
}

func (f *fakeServer) handleMemoryItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/memory/")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.memories {
		if m["id"] != id {
			continue
		}
		if r.Method == http.MethodDelete {
			f.memories = append(f.memories[:i], f.memories[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]any{"message": "Memory entry deleted successfully"})
			return
		}
		writeJSON(w, http.StatusOK, m)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"error": "Memory entry not found"})
}
