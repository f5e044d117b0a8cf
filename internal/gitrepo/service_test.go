package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"formvault/api/internal/docstore"
)

func openTestRepo(t *testing.T, root string) *Service {
	t.Helper()
	svc, err := Open(root, Options{
		AuthorName: "Avery",
		Now:        func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) },
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return svc
}

func TestPutGetLifecycle(t *testing.T) {
	svc := openTestRepo(t, t.TempDir())
	ctx := context.Background()

	if _, err := svc.GetFile(ctx, "backend/data/forms.json"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("GetFile() on empty repo error = %v, want ErrNotFound", err)
	}

	content := []byte("{\n  \"items\": []\n}\n")
	token, err := svc.PutFile(ctx, "backend/data/forms.json", docstore.PutRequest{Message: "create forms", Content: content})
	if err != nil {
		t.Fatalf("PutFile() error = %v", err)
	}
	if token != docstore.BlobToken(content) {
		t.Fatalf("token = %s, want blob hash %s", token, docstore.BlobToken(content))
	}

	file, err := svc.GetFile(ctx, "backend/data/forms.json")
	if err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}
	if string(file.Content) != string(content) || file.Token != token {
		t.Fatalf("unexpected file %q token %s", file.Content, file.Token)
	}

	if _, err := svc.PutFile(ctx, "backend/data/forms.json", docstore.PutRequest{Message: "again", Content: content}); !errors.Is(err, docstore.ErrExists) {
		t.Fatalf("tokenless overwrite error = %v, want ErrExists", err)
	}
	if _, err := svc.PutFile(ctx, "backend/data/forms.json", docstore.PutRequest{Message: "stale", Content: []byte("{}"), Token: "deadbeef"}); !errors.Is(err, docstore.ErrConflict) {
		t.Fatalf("stale token error = %v, want ErrConflict", err)
	}

	next, err := svc.PutFile(ctx, "backend/data/forms.json", docstore.PutRequest{Message: "update", Content: []byte("{\"items\":[{}]}\n"), Token: token})
	if err != nil {
		t.Fatalf("PutFile(update) error = %v", err)
	}
	if err := svc.DeleteFile(ctx, "backend/data/forms.json", token, "delete stale"); !errors.Is(err, docstore.ErrConflict) {
		t.Fatalf("DeleteFile(stale) error = %v, want ErrConflict", err)
	}
	if err := svc.DeleteFile(ctx, "backend/data/forms.json", next, "delete"); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}
	if _, err := svc.GetFile(ctx, "backend/data/forms.json"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("GetFile() after delete error = %v", err)
	}
}

func TestReopenKeepsCommittedFiles(t *testing.T) {
	root := t.TempDir()
	svc := openTestRepo(t, root)
	ctx := context.Background()
	if _, err := svc.PutFile(ctx, "settings.json", docstore.PutRequest{Message: "settings", Content: []byte(`{"theme":"dark"}`)}); err != nil {
		t.Fatalf("PutFile() error = %v", err)
	}

	reopened := openTestRepo(t, root)
	file, err := reopened.GetFile(ctx, "settings.json")
	if err != nil {
		t.Fatalf("GetFile() after reopen error = %v", err)
	}
	if string(file.Content) != `{"theme":"dark"}` {
		t.Fatalf("unexpected content %q", file.Content)
	}
}

func TestRestoreUndoesUncommittedWrites(t *testing.T) {
	root := t.TempDir()
	svc := openTestRepo(t, root)
	ctx := context.Background()
	if _, err := svc.PutFile(ctx, "settings.json", docstore.PutRequest{Message: "settings", Content: []byte(`{"theme":"dark"}`)}); err != nil {
		t.Fatalf("PutFile() error = %v", err)
	}

	worktree, err := svc.repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree() error = %v", err)
	}
	stage := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if _, err := worktree.Add(name); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	stage("settings.json", `{"theme":"light"}`)
	stage("users.json", `{"items":[]}`)

	svc.restore(worktree, "settings.json")
	svc.restore(worktree, "users.json")

	raw, err := os.ReadFile(filepath.Join(root, "settings.json"))
	if err != nil || string(raw) != `{"theme":"dark"}` {
		t.Fatalf("settings.json on disk = %q, %v", raw, err)
	}
	if _, err := os.Stat(filepath.Join(root, "users.json")); !os.IsNotExist(err) {
		t.Fatalf("users.json should be gone, stat error = %v", err)
	}
	status, err := worktree.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.IsClean() {
		t.Fatalf("worktree not clean after restore:\n%s", status)
	}

	// The next write must commit only its own change.
	if _, err := svc.PutFile(ctx, "forms.json", docstore.PutRequest{Message: "forms", Content: []byte(`{"items":[]}`)}); err != nil {
		t.Fatalf("PutFile() error = %v", err)
	}
	if _, err := svc.GetFile(ctx, "users.json"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("users.json was committed, GetFile() error = %v", err)
	}
}

func TestListDir(t *testing.T) {
	svc := openTestRepo(t, t.TempDir())
	ctx := context.Background()

	if paths, err := svc.ListDir(ctx, ""); err != nil || len(paths) != 0 {
		t.Fatalf("ListDir() on empty repo = %v, %v", paths, err)
	}
	for _, p := range []string{"backend/data/forms.json", "backend/data/submissions.0.json", "backend/data/nested/x.json", "root.json"} {
		if _, err := svc.PutFile(ctx, p, docstore.PutRequest{Message: "add " + p, Content: []byte("{}")}); err != nil {
			t.Fatalf("PutFile(%s) error = %v", p, err)
		}
	}

	paths, err := svc.ListDir(ctx, "backend/data")
	if err != nil {
		t.Fatalf("ListDir() error = %v", err)
	}
	if got := strings.Join(paths, ","); got != "backend/data/forms.json,backend/data/submissions.0.json" {
		t.Fatalf("ListDir() = %s", got)
	}
	root, err := svc.ListDir(ctx, "")
	if err != nil || strings.Join(root, ",") != "root.json" {
		t.Fatalf("ListDir(root) = %v, %v", root, err)
	}
	if missing, err := svc.ListDir(ctx, "nope"); err != nil || len(missing) != 0 {
		t.Fatalf("ListDir(missing) = %v, %v", missing, err)
	}
}

func TestHistory(t *testing.T) {
	svc := openTestRepo(t, t.TempDir())
	ctx := context.Background()

	token, err := svc.PutFile(ctx, "forms.json", docstore.PutRequest{Message: "create forms", Content: []byte("{}")})
	if err != nil {
		t.Fatalf("PutFile() error = %v", err)
	}
	if _, err := svc.PutFile(ctx, "other.json", docstore.PutRequest{Message: "unrelated", Content: []byte("{}")}); err != nil {
		t.Fatalf("PutFile(other) error = %v", err)
	}
	for i := 1; i <= 3; i++ {
		token, err = svc.PutFile(ctx, "forms.json", docstore.PutRequest{Message: fmt.Sprintf("edit %d", i), Content: []byte(fmt.Sprintf(`{"v":%d}`, i)), Token: token})
		if err != nil {
			t.Fatalf("PutFile(edit %d) error = %v", i, err)
		}
	}

	history, err := svc.History(ctx, "forms.json", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 revisions of forms.json, got %d: %+v", len(history), history)
	}
	if history[0].Message != "edit 3" || history[3].Message != "create forms" {
		t.Fatalf("expected newest first, got %+v", history)
	}
	if history[0].Author != "Avery" || len(history[0].Hash) != 7 {
		t.Fatalf("unexpected revision %+v", history[0])
	}

	limited, err := svc.History(ctx, "forms.json", 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("History(limit 2) = %d, %v", len(limited), err)
	}
}

func TestDocumentStoreOverGitRepo(t *testing.T) {
	svc := openTestRepo(t, t.TempDir())
	client := docstore.NewClient(svc, docstore.Options{
		RetryDelay: time.Millisecond,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := docstore.Entry{"id": fmt.Sprintf("f%d", i)}
		if _, err := client.AddEntry(ctx, "backend/data/forms.json", entry, "add form"); err != nil {
			t.Fatalf("AddEntry() error = %v", err)
		}
	}
	coll, _, found, err := client.ReadCollection(ctx, "backend/data/forms.json", "")
	if err != nil || !found {
		t.Fatalf("ReadCollection() found=%v error=%v", found, err)
	}
	if len(coll.Items) != 3 {
		t.Fatalf("expected 3 forms, got %d", len(coll.Items))
	}

	history, err := svc.History(ctx, "backend/data/forms.json", 0)
	if err != nil || len(history) != 3 {
		t.Fatalf("expected one commit per write, got %d (%v)", len(history), err)
	}
}
