// Package archive copies collections from the document store to object
// storage and back.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"formvault/api/internal/docstore"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// ObjectStore is the subset of an S3 bucket the archiver needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

type Options struct {
	// Prefix is prepended to every object key.
	Prefix string
	Now    func() time.Time
	Logger *slog.Logger
}

type Archiver struct {
	docs    *docstore.Client
	objects ObjectStore
	prefix  string
	now     func() time.Time
	logger  *slog.Logger
}

func New(docs *docstore.Client, objects ObjectStore, opts Options) *Archiver {
	a := &Archiver{
		docs:    docs,
		objects: objects,
		prefix:  strings.Trim(opts.Prefix, "/"),
		now:     opts.Now,
		logger:  opts.Logger,
	}
	if a.prefix == "" {
		a.prefix = "snapshots"
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Snapshot uploads the merged form of the collection at docPath, whether
// it is stored as one file or as chunks, and returns the object key:
// "<prefix>/<UTC timestamp>/<docPath>".
func (a *Archiver) Snapshot(ctx context.Context, docPath, key string) (string, error) {
	coll, found, err := a.docs.LoadCollection(ctx, docPath, key)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("snapshot %s: %w", docPath, docstore.ErrNotFound)
	}
	data, err := docstore.Marshal(coll)
	if err != nil {
		return "", fmt.Errorf("snapshot %s: %w", docPath, err)
	}
	objectKey := path.Join(a.prefix, a.now().UTC().Format("20060102T150405Z"), docPath)
	if err := a.objects.Put(ctx, objectKey, data); err != nil {
		return "", err
	}
	a.logger.Info("archive: snapshot stored", "path", docPath, "object", objectKey, "items", len(coll.Items), "bytes", len(data))
	return objectKey, nil
}

// Restore writes the snapshot at objectKey back to docPath, splitting it
// into chunks if it no longer fits in one file.
func (a *Archiver) Restore(ctx context.Context, objectKey, docPath, key string) (int, error) {
	data, err := a.objects.Get(ctx, objectKey)
	if err != nil {
		return 0, err
	}
	coll, err := docstore.DecodeCollection(data, key)
	if err != nil {
		return 0, fmt.Errorf("restore %s: %w", objectKey, err)
	}
	message := fmt.Sprintf("Restore %s from %s", docPath, objectKey)
	if err := a.docs.SaveCollection(ctx, docPath, coll, message); err != nil {
		return 0, err
	}
	a.logger.Info("archive: snapshot restored", "path", docPath, "object", objectKey, "items", len(coll.Items))
	return len(coll.Items), nil
}

// Snapshots lists the stored snapshots of docPath, newest first.
func (a *Archiver) Snapshots(ctx context.Context, docPath string) ([]string, error) {
	keys, err := a.objects.List(ctx, a.prefix+"/")
	if err != nil {
		return nil, err
	}
	var matching []string
	for _, key := range keys {
		if strings.HasSuffix(key, "/"+docPath) {
			matching = append(matching, key)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matching)))
	return matching, nil
}
