package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"formvault/api/internal/docstore"
)

var (
	_ docstore.Host      = (*DocumentStore)(nil)
	_ docstore.Historian = (*DocumentStore)(nil)
)

// DocumentStore is a docstore host over the documents table.
type DocumentStore struct {
	db     *sql.DB
	author string
	logger *slog.Logger
}

// NewDocumentStore wraps db. author is recorded on every audit row.
func NewDocumentStore(db *sql.DB, author string, logger *slog.Logger) *DocumentStore {
	if author == "" {
		author = "formvault"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentStore{db: db, author: author, logger: logger}
}

func (s *DocumentStore) DB() *sql.DB {
	return s.db
}

func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *DocumentStore) GetFile(ctx context.Context, path string) (docstore.File, error) {
	var file docstore.File
	var sha string
	err := s.db.QueryRowContext(ctx, `SELECT content, sha FROM documents WHERE path=$1`, path).Scan(&file.Content, &sha)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.File{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.File{}, fmt.Errorf("load document %s: %w", path, err)
	}
	file.Token = docstore.Token(sha)
	return file, nil
}

// PutFile inserts or conditionally updates path. The update only matches
// the row while its sha still equals the request token.
func (s *DocumentStore) PutFile(ctx context.Context, path string, req docstore.PutRequest) (docstore.Token, error) {
	next := docstore.BlobToken(req.Content)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin put tx: %w", err)
	}
	defer tx.Rollback()

	if req.Token == "" {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (path, content, sha, message)
			VALUES ($1, $2, $3, $4)
		`, path, req.Content, string(next), req.Message)
		if isUniqueViolation(err) {
			return "", docstore.ErrExists
		}
		if err != nil {
			return "", fmt.Errorf("insert document %s: %w", path, err)
		}
	} else {
		result, err := tx.ExecContext(ctx, `
			UPDATE documents
			SET content=$3, sha=$4, message=$5, updated_at=NOW()
			WHERE path=$1 AND sha=$2
		`, path, string(req.Token), req.Content, string(next), req.Message)
		if err != nil {
			return "", fmt.Errorf("update document %s: %w", path, err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return "", fmt.Errorf("update document %s: %w", path, err)
		} else if affected == 0 {
			return "", docstore.ErrConflict
		}
	}

	if err := s.recordCommit(ctx, tx, path, "put", string(next), req.Message); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit put tx: %w", err)
	}
	s.logger.Debug("store: document written", "path", path, "sha", string(next))
	return next, nil
}

func (s *DocumentStore) DeleteFile(ctx context.Context, path string, token docstore.Token, message string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path=$1 AND sha=$2`, path, string(token))
	if err != nil {
		return fmt.Errorf("delete document %s: %w", path, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document %s: %w", path, err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE path=$1)`, path).Scan(&exists); err != nil {
			return fmt.Errorf("check document %s: %w", path, err)
		}
		if exists {
			return docstore.ErrConflict
		}
		return docstore.ErrNotFound
	}

	if err := s.recordCommit(ctx, tx, path, "delete", "", message); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

func (s *DocumentStore) recordCommit(ctx context.Context, tx *sql.Tx, path, action, sha, message string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_commits (path, action, sha, message, author)
		VALUES ($1, $2, $3, $4, $5)
	`, path, action, sha, message, s.author); err != nil {
		return fmt.Errorf("record %s of %s: %w", action, path, err)
	}
	return nil
}

// ListDir returns the documents whose path sits directly under dir.
func (s *DocumentStore) ListDir(ctx context.Context, dir string) ([]string, error) {
	prefix := ""
	if dir != "" && dir != "." {
		prefix = dir + "/"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT path FROM documents
		WHERE left(path, char_length($1)) = $1
		  AND strpos(substr(path, char_length($1) + 1), '/') = 0
		ORDER BY path
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// History lists the audit rows of path, newest first. Revision hashes are
// the abbreviated content sha; deletions have none.
func (s *DocumentStore) History(ctx context.Context, path string, limit int) ([]docstore.Revision, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, sha, message, author, committed_at
		FROM document_commits
		WHERE path=$1
		ORDER BY id DESC
		LIMIT $2
	`, path, limitArg)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", path, err)
	}
	defer rows.Close()

	items := make([]docstore.Revision, 0)
	for rows.Next() {
		var action, sha string
		var revision docstore.Revision
		if err := rows.Scan(&action, &sha, &revision.Message, &revision.Author, &revision.When); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		if len(sha) > 7 {
			sha = sha[:7]
		}
		revision.Hash = sha
		if action == "delete" {
			revision.Message = "[deleted] " + revision.Message
		}
		items = append(items, revision)
	}
	return items, rows.Err()
}
