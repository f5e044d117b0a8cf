package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"formvault/api/internal/docstore"
)

const contentsPrefix = "/repos/acme/forms/contents"

// fakeContentsAPI is a minimal in-memory contents API for one branch.
type fakeContentsAPI struct {
	mu        sync.Mutex
	files     map[string][]byte
	requests  []string
	omitBelow int
	failNext  int
	failWith  int
	failBody  string
	headers   http.Header
}

func newFakeContentsAPI() *fakeContentsAPI {
	return &fakeContentsAPI{files: make(map[string][]byte), omitBelow: -1}
}

func (api *fakeContentsAPI) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.requests = append(api.requests, request.Method+" "+request.URL.Path)
	api.headers = request.Header.Clone()
	writer.Header().Set("Content-Type", "application/json")

	if api.failNext > 0 {
		api.failNext--
		if api.failWith == http.StatusTooManyRequests {
			writer.Header().Set("Retry-After", "1")
		}
		writer.WriteHeader(api.failWith)
		io.WriteString(writer, api.failBody)
		return
	}

	if !strings.HasPrefix(request.URL.Path, contentsPrefix) {
		writer.WriteHeader(http.StatusNotFound)
		io.WriteString(writer, `{"message":"Not Found"}`)
		return
	}
	if ref := request.URL.Query().Get("ref"); request.Method == http.MethodGet && ref != "main" {
		writer.WriteHeader(http.StatusNotFound)
		io.WriteString(writer, `{"message":"No commit found for the ref"}`)
		return
	}
	filePath := strings.TrimPrefix(strings.TrimPrefix(request.URL.Path, contentsPrefix), "/")

	switch request.Method {
	case http.MethodGet:
		api.get(writer, request, filePath)
	case http.MethodPut:
		api.put(writer, request, filePath)
	case http.MethodDelete:
		api.delete(writer, request, filePath)
	default:
		writer.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (api *fakeContentsAPI) get(writer http.ResponseWriter, request *http.Request, filePath string) {
	if content, ok := api.files[filePath]; ok {
		if request.Header.Get("Accept") == acceptRaw {
			writer.Write(content)
			return
		}
		entry := contentEntry{Type: "file", Name: path.Base(filePath), Path: filePath, SHA: string(docstore.BlobToken(content)), Size: int64(len(content))}
		if api.omitBelow < 0 || len(content) < api.omitBelow {
			entry.Encoding = "base64"
			encoded := docstore.EncodeTransport(content)
			// The real API wraps base64 at 60 columns.
			var wrapped strings.Builder
			for len(encoded) > 60 {
				wrapped.WriteString(encoded[:60] + "\n")
				encoded = encoded[60:]
			}
			wrapped.WriteString(encoded)
			entry.Content = wrapped.String()
		} else {
			entry.Encoding = "none"
		}
		json.NewEncoder(writer).Encode(entry)
		return
	}

	var entries []contentEntry
	for name := range api.files {
		dir := path.Dir(name)
		if dir == "." {
			dir = ""
		}
		if dir == filePath {
			entries = append(entries, contentEntry{Type: "file", Name: path.Base(name), Path: name})
		}
	}
	if len(entries) == 0 && filePath != "" {
		writer.WriteHeader(http.StatusNotFound)
		io.WriteString(writer, `{"message":"Not Found"}`)
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	if entries == nil {
		entries = []contentEntry{}
	}
	json.NewEncoder(writer).Encode(entries)
}

func (api *fakeContentsAPI) put(writer http.ResponseWriter, request *http.Request, filePath string) {
	var body putBody
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	current, exists := api.files[filePath]
	switch {
	case body.SHA == "" && exists:
		writer.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(writer, `{"message":"Invalid request.\n\n\"sha\" wasn't supplied."}`)
		return
	case body.SHA != "" && !exists:
		writer.WriteHeader(http.StatusNotFound)
		io.WriteString(writer, `{"message":"Not Found"}`)
		return
	case body.SHA != "" && string(docstore.BlobToken(current)) != body.SHA:
		writer.WriteHeader(http.StatusConflict)
		io.WriteString(writer, `{"message":"forms.json does not match `+body.SHA+`"}`)
		return
	}
	content, err := docstore.DecodeTransport(body.Content)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	api.files[filePath] = content
	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writer.WriteHeader(status)
	io.WriteString(writer, `{"content":{"sha":"`+string(docstore.BlobToken(content))+`"},"commit":{"sha":"c0ffee"}}`)
}

func (api *fakeContentsAPI) delete(writer http.ResponseWriter, request *http.Request, filePath string) {
	var body deleteBody
	json.NewDecoder(request.Body).Decode(&body)
	current, exists := api.files[filePath]
	if !exists {
		writer.WriteHeader(http.StatusNotFound)
		io.WriteString(writer, `{"message":"Not Found"}`)
		return
	}
	if string(docstore.BlobToken(current)) != body.SHA {
		writer.WriteHeader(http.StatusConflict)
		io.WriteString(writer, `{"message":"sha does not match"}`)
		return
	}
	delete(api.files, filePath)
	io.WriteString(writer, `{"commit":{"sha":"d00d"}}`)
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:    server.URL,
		Token:      "test-token",
		Owner:      "acme",
		Repo:       "forms",
		HTTPClient: server.Client(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return client
}

func TestNewClient_HTTPSEnforcement(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://api.github.com", Token: "x", Owner: "o", Repo: "r"})
	if err == nil {
		t.Fatal("expected error for HTTP URL")
	}
	if got := err.Error(); got != `github: API client requires HTTPS (got "http://api.github.com")` {
		t.Errorf("unexpected error: %s", got)
	}
	if _, err := NewClient(Config{BaseURL: "http://127.0.0.1:8080", Token: "x", Owner: "o", Repo: "r"}); err != nil {
		t.Errorf("loopback HTTP should be accepted: %v", err)
	}
}

func TestNewClient_RequiresCoordinates(t *testing.T) {
	if _, err := NewClient(Config{Owner: "o", Repo: "r"}); err == nil {
		t.Error("expected error without token")
	}
	if _, err := NewClient(Config{Token: "x", Repo: "r"}); err == nil {
		t.Error("expected error without owner")
	}
	client, err := NewClient(Config{Token: "x", Owner: "o", Repo: "r"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.Branch() != "main" {
		t.Errorf("Branch() = %q, want main", client.Branch())
	}
}

func TestClient_PutGetRoundTrip(t *testing.T) {
	api := newFakeContentsAPI()
	server := httptest.NewTLSServer(api)
	defer server.Close()
	client := newTestClient(t, server)
	ctx := context.Background()

	content := []byte("{\n  \"items\": [],\n  \"title\": \"Ünïcode <ok>\"\n}\n")
	token, err := client.PutFile(ctx, "backend/data/forms.json", docstore.PutRequest{Message: "create", Content: content})
	if err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if token != docstore.BlobToken(content) {
		t.Errorf("token = %s, want blob hash", token)
	}
	if got := api.headers.Get("Authorization"); got != "Bearer test-token" {
		t.Errorf("Authorization = %q", got)
	}
	if got := api.headers.Get("X-GitHub-Api-Version"); got != githubAPIVersion {
		t.Errorf("X-GitHub-Api-Version = %q", got)
	}

	file, err := client.GetFile(ctx, "backend/data/forms.json")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if string(file.Content) != string(content) {
		t.Errorf("content = %q, want %q", file.Content, content)
	}
	if file.Token != token {
		t.Errorf("token = %s, want %s", file.Token, token)
	}
}

func TestClient_GetFileFallsBackToRaw(t *testing.T) {
	api := newFakeContentsAPI()
	api.omitBelow = 10
	api.files["big.json"] = []byte(`{"items":[{"id":"a"}]}`)
	server := httptest.NewTLSServer(api)
	defer server.Close()

	file, err := newTestClient(t, server).GetFile(context.Background(), "big.json")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if string(file.Content) != `{"items":[{"id":"a"}]}` {
		t.Errorf("content = %q", file.Content)
	}
	if file.Token != docstore.BlobToken(api.files["big.json"]) {
		t.Errorf("token = %s", file.Token)
	}
	if len(api.requests) != 2 {
		t.Errorf("expected JSON then raw request, got %v", api.requests)
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	api := newFakeContentsAPI()
	api.files["forms.json"] = []byte(`{"items":[]}`)
	server := httptest.NewTLSServer(api)
	defer server.Close()
	client := newTestClient(t, server)
	ctx := context.Background()

	if _, err := client.GetFile(ctx, "missing.json"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("GetFile(missing) = %v, want ErrNotFound", err)
	}
	_, err := client.PutFile(ctx, "forms.json", docstore.PutRequest{Message: "stale", Content: []byte("{}"), Token: "0000"})
	if !errors.Is(err, docstore.ErrConflict) {
		t.Errorf("PutFile(stale) = %v, want ErrConflict", err)
	}
	if !IsConflict(err) {
		t.Errorf("expected the APIError to stay reachable: %v", err)
	}
	if _, err := client.PutFile(ctx, "forms.json", docstore.PutRequest{Message: "create", Content: []byte("{}")}); !errors.Is(err, docstore.ErrExists) {
		t.Errorf("PutFile(no sha) = %v, want ErrExists", err)
	}
	if _, err := client.PutFile(ctx, "gone.json", docstore.PutRequest{Message: "update", Content: []byte("{}"), Token: "abcd"}); !errors.Is(err, docstore.ErrConflict) {
		t.Errorf("PutFile(deleted) = %v, want ErrConflict", err)
	}
}

func TestClient_PermissionHint(t *testing.T) {
	api := newFakeContentsAPI()
	api.failNext, api.failWith, api.failBody = 1, http.StatusForbidden, `{"message":"Resource not accessible by personal access token"}`
	server := httptest.NewTLSServer(api)
	defer server.Close()

	_, err := newTestClient(t, server).PutFile(context.Background(), "forms.json", docstore.PutRequest{Message: "m", Content: []byte("{}")})
	var hostErr *docstore.HostError
	if !errors.As(err, &hostErr) {
		t.Fatalf("expected HostError, got %v", err)
	}
	if hostErr.Status != http.StatusForbidden || !strings.Contains(hostErr.Hint, "GITHUB_TOKEN") {
		t.Errorf("unexpected host error %+v", hostErr)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("expected the APIError to stay reachable: %v", err)
	}
	if IsRateLimited(err) {
		t.Errorf("permission failure reported as rate limit: %v", err)
	}
}

func TestClient_RateLimitStaysReachable(t *testing.T) {
	api := newFakeContentsAPI()
	api.failNext, api.failWith, api.failBody = 2, http.StatusTooManyRequests, `{"message":"You have exceeded a secondary rate limit"}`
	server := httptest.NewTLSServer(api)
	defer server.Close()

	_, err := newTestClient(t, server).GetFile(context.Background(), "forms.json")
	if !IsRateLimited(err) {
		t.Fatalf("IsRateLimited(%v) = false", err)
	}
	if docstore.StatusOf(err) != http.StatusTooManyRequests {
		t.Errorf("StatusOf() = %d, want 429", docstore.StatusOf(err))
	}
}

func TestClient_RetriesOnceWhenRateLimited(t *testing.T) {
	api := newFakeContentsAPI()
	api.files["forms.json"] = []byte(`{"items":[]}`)
	api.failNext, api.failWith, api.failBody = 1, http.StatusTooManyRequests, `{"message":"You have exceeded a secondary rate limit"}`
	server := httptest.NewTLSServer(api)
	defer server.Close()

	if _, err := newTestClient(t, server).GetFile(context.Background(), "forms.json"); err != nil {
		t.Fatalf("GetFile after rate limit: %v", err)
	}
	if len(api.requests) != 2 {
		t.Errorf("expected one retry, got %v", api.requests)
	}
}

func TestClient_ListDir(t *testing.T) {
	api := newFakeContentsAPI()
	api.files["backend/data/forms.json"] = []byte("{}")
	api.files["backend/data/submissions.0.json"] = []byte("{}")
	api.files["backend/data/submissions.1.json"] = []byte("{}")
	api.files["README.md"] = []byte("readme")
	server := httptest.NewTLSServer(api)
	defer server.Close()
	client := newTestClient(t, server)
	ctx := context.Background()

	paths, err := client.ListDir(ctx, "backend/data")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	want := []string{"backend/data/forms.json", "backend/data/submissions.0.json", "backend/data/submissions.1.json"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Errorf("ListDir = %v, want %v", paths, want)
	}

	paths, err = client.ListDir(ctx, "nowhere")
	if err != nil || len(paths) != 0 {
		t.Errorf("ListDir(missing) = %v, %v; want empty", paths, err)
	}
}

func TestClient_WorksAsDocumentStoreHost(t *testing.T) {
	api := newFakeContentsAPI()
	server := httptest.NewTLSServer(api)
	defer server.Close()
	store := docstore.NewClient(newTestClient(t, server), docstore.Options{
		RetryDelay: time.Millisecond,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx := context.Background()

	if _, err := store.AddEntry(ctx, "backend/data/forms.json", docstore.Entry{"id": "f1", "title": "Intake"}, "add form"); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	updated, err := store.UpdateEntry(ctx, "backend/data/forms.json", "f1", "id", func(e docstore.Entry) (docstore.Entry, error) {
		e["title"] = "Intake v2"
		return e, nil
	}, "rename form")
	if err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}
	if updated["title"] != "Intake v2" {
		t.Errorf("updated = %v", updated)
	}
	if err := store.Delete(ctx, "backend/data/forms.json", "drop"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := store.Read(ctx, "backend/data/forms.json"); found {
		t.Error("expected document to be deleted")
	}
}
