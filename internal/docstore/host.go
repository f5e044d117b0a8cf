package docstore

import (
	"context"
	"time"
)

// Token is the precondition token of a file: the host's content hash for
// the path at the time it was read. The empty Token means "no file".
type Token string

// File is the raw content stored at a path together with its token.
type File struct {
	Content []byte
	Token   Token
}

// PutRequest is a create-or-update of a single file. A non-empty Token
// makes the write conditional on the live file still having that token;
// an empty Token only succeeds when the path does not exist yet.
type PutRequest struct {
	Message string
	Content []byte
	Token   Token
}

// Host is a version-controlled file host used as a JSON document store.
//
// Implementations must report a missing path as ErrNotFound, a stale token
// as ErrConflict and a tokenless write over existing content as ErrExists.
// Any other failure should be a *HostError.
type Host interface {
	GetFile(ctx context.Context, path string) (File, error)
	PutFile(ctx context.Context, path string, req PutRequest) (Token, error)
	DeleteFile(ctx context.Context, path string, token Token, message string) error
	// ListDir returns the full paths of the files directly under dir. A
	// missing directory is an empty listing, not an error.
	ListDir(ctx context.Context, dir string) ([]string, error)
}

// Revision is one commit that touched a path.
type Revision struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// Historian is implemented by hosts that can list the revisions of a path,
// newest first. limit <= 0 means no limit.
type Historian interface {
	History(ctx context.Context, path string, limit int) ([]Revision, error)
}
