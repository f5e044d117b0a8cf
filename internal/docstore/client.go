// Package docstore treats a version-controlled file host as a JSON document
// store with optimistic concurrency.
//
// Every write carries the precondition token obtained from a read. The
// host rejects a stale token with ErrConflict and the client retries a
// bounded number of times, re-reading only the token. Read-modify-write
// helpers are therefore not linearizable: two writers that read the same
// version may both commit, and the later commit silently replaces the
// earlier one. The store assumes few concurrent writers per path.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = time.Second
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	// MaxAttempts is the total number of write attempts on conflict.
	MaxAttempts int
	// RetryDelay is multiplied by the attempt number between attempts.
	RetryDelay time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Client reads and writes JSON documents on a Host.
type Client struct {
	host        Host
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// Snapshot is a document as read from the host.
type Snapshot struct {
	Path    string
	Content json.RawMessage
	Token   Token
}

// NewClient wraps host with collection helpers and write retries. Zero
// options fall back to the package defaults.
func NewClient(host Host, opts Options) *Client {
	c := &Client{
		host:        host,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		now:         opts.Now,
		logger:      opts.Logger,
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.retryDelay <= 0 {
		c.retryDelay = defaultRetryDelay
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Host returns the underlying host.
func (c *Client) Host() Host {
	return c.host
}

// Read fetches the document at path. A missing document is reported with
// found=false and no error so callers can initialise it.
func (c *Client) Read(ctx context.Context, path string) (Snapshot, bool, error) {
	file, err := c.host.GetFile(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return Snapshot{Path: path}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read %s: %w", path, err)
	}
	return Snapshot{Path: path, Content: file.Content, Token: file.Token}, true, nil
}

// Write stores doc at path as canonical JSON. With an empty token the write
// is a create. On ErrConflict the path is re-read for a fresh token and the
// same content is resubmitted, up to MaxAttempts attempts in total.
func (c *Client) Write(ctx context.Context, path string, doc any, message string, token Token) (Token, error) {
	content, err := Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return c.writeContent(ctx, path, content, message, token)
}

func (c *Client) writeContent(ctx context.Context, path string, content []byte, message string, token Token) (Token, error) {
	for attempt := 1; ; attempt++ {
		next, err := c.host.PutFile(ctx, path, PutRequest{
			Message: message,
			Content: content,
			Token:   token,
		})
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrConflict) {
			return "", fmt.Errorf("write %s: %w", path, err)
		}
		if attempt >= c.maxAttempts {
			return "", fmt.Errorf("write %s: giving up after %d attempts: %w", path, attempt, err)
		}

		delay := time.Duration(attempt) * c.retryDelay
		c.logger.Warn("docstore: write conflict, retrying",
			"path", path,
			"attempt", attempt,
			"delay", delay,
		)
		if err := sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("write %s: %w", path, err)
		}

		snapshot, found, err := c.Read(ctx, path)
		if err != nil {
			return "", err
		}
		token = ""
		if found {
			token = snapshot.Token
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadCollection reads path as a collection with records under key. A
// missing document yields an empty collection and found=false.
func (c *Client) ReadCollection(ctx context.Context, path, key string) (*Collection, Token, bool, error) {
	snapshot, found, err := c.Read(ctx, path)
	if err != nil {
		return nil, "", false, err
	}
	if !found {
		return NewCollection(key), "", false, nil
	}
	coll, err := DecodeCollection(snapshot.Content, key)
	if err != nil {
		return nil, "", false, fmt.Errorf("read %s: %w", path, err)
	}
	return coll, snapshot.Token, true, nil
}

// ModifyCollection reads the collection at path, applies fn and writes the
// result back with the token from that read and a refreshed lastUpdated.
// If fn returns an error nothing is written.
func (c *Client) ModifyCollection(ctx context.Context, path, key string, fn func(*Collection) error, message string) (*Collection, error) {
	coll, token, _, err := c.ReadCollection(ctx, path, key)
	if err != nil {
		return nil, err
	}
	if err := fn(coll); err != nil {
		return nil, err
	}
	coll.Touch(c.now())
	if _, err := c.Write(ctx, path, coll, message, token); err != nil {
		return nil, err
	}
	return coll, nil
}

// UpdateEntry replaces the record whose idField equals entryID with the
// result of transform.
func (c *Client) UpdateEntry(ctx context.Context, path, entryID, idField string, transform func(Entry) (Entry, error), message string) (Entry, error) {
	var updated Entry
	_, err := c.ModifyCollection(ctx, path, DefaultItemsKey, func(coll *Collection) error {
		index := coll.Find(idField, entryID)
		if index < 0 {
			return fmt.Errorf("%s %q in %s: %w", idField, entryID, path, ErrEntryNotFound)
		}
		next, err := transform(coll.Items[index])
		if err != nil {
			return err
		}
		coll.Items[index] = next
		updated = next
		return nil
	}, message)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AddEntry appends entry to the collection at path, creating the document
// if it does not exist.
func (c *Client) AddEntry(ctx context.Context, path string, entry Entry, message string) (Entry, error) {
	_, err := c.ModifyCollection(ctx, path, DefaultItemsKey, func(coll *Collection) error {
		coll.Items = append(coll.Items, entry)
		return nil
	}, message)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// RemoveEntry deletes every record whose idField equals entryID.
func (c *Client) RemoveEntry(ctx context.Context, path, entryID, idField, message string) error {
	_, err := c.ModifyCollection(ctx, path, DefaultItemsKey, func(coll *Collection) error {
		kept := coll.Items[:0]
		for _, item := range coll.Items {
			if value, ok := item.ID(idField); ok && value == entryID {
				continue
			}
			kept = append(kept, item)
		}
		if len(kept) == len(coll.Items) {
			return fmt.Errorf("%s %q in %s: %w", idField, entryID, path, ErrEntryNotFound)
		}
		coll.Items = kept
		return nil
	}, message)
	return err
}

// Delete removes the document at path. Deleting a missing document is a
// no-op.
func (c *Client) Delete(ctx context.Context, path, message string) error {
	snapshot, found, err := c.Read(ctx, path)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := c.host.DeleteFile(ctx, path, snapshot.Token, message); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}
