package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL: ts.server.URL,
		token:   "test-token",
		http:    ts.server.Client(),
	}
}

var ctx = context.Background()

func TestAskTurnRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/threads/biology/turns": `{"thread_id":"biology","text_response":"Plants absorb light.","workflow_status":"done"}`,
	})

	client := ts.client()

	var result struct {
		TextResponse   string `json:"text_response"`
		WorkflowStatus string `json:"workflow_status"`
	}
	err := client.postJSON(ctx, "/v1/threads/biology/turns", map[string]string{
		"owner_id": "local",
		"message":  "what do plants absorb?",
	}, &result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.TextResponse != "Plants absorb light." {
		t.Errorf("text = %q", result.TextResponse)
	}
	if result.WorkflowStatus != "done" {
		t.Errorf("status = %q", result.WorkflowStatus)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/v1/threads/biology/turns" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["message"] != "what do plants absorb?" || body["owner_id"] != "local" {
		t.Errorf("body = %v", body)
	}
}

func TestErrorResponseSurfacesBody(t *testing.T) {
	ts := newTestServer(t, nil)

	client := ts.client()
	err := client.getJSON(ctx, "/v1/documents/missing", &struct{}{})
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q, want status and server message", err.Error())
	}
}

func TestDocsListRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/documents": `[{"id":"d1","title":"Chapter 3"},{"id":"d2","title":""}]`,
	})

	client := ts.client()

	var docs []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if err := client.getJSON(ctx, "/v1/documents?owner_id=local", &docs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(docs) != 2 || docs[0].ID != "d1" || docs[0].Title != "Chapter 3" {
		t.Errorf("docs = %+v", docs)
	}
	if got := ts.requests[0].Path; got != "/v1/documents?owner_id=local" {
		t.Errorf("path = %q", got)
	}
}

func TestAskCommandMissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing message argument")
	}
	if !strings.Contains(err.Error(), "arg") {
		t.Errorf("error = %q, want it to mention args", err.Error())
	}
}
