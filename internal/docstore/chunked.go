package docstore

import (
	"context"
	"fmt"
	"path"
	"sort"
)

// LoadCollection reads a collection that may be stored as a chunk set. The
// canonical file wins when present; otherwise every "<base>.<n>.json" file
// next to it is read and merged. found is false when neither exists.
func (c *Client) LoadCollection(ctx context.Context, basePath, key string) (*Collection, bool, error) {
	coll, _, found, err := c.ReadCollection(ctx, basePath, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return coll, true, nil
	}

	chunkPaths, err := c.chunkPaths(ctx, basePath)
	if err != nil {
		return nil, false, err
	}
	if len(chunkPaths) == 0 {
		return NewCollection(key), false, nil
	}

	chunks := make([]Chunk, 0, len(chunkPaths))
	for _, chunkPath := range chunkPaths {
		doc, _, ok, err := c.ReadCollection(ctx, chunkPath, key)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			// Removed between listing and reading: a concurrent save.
			return nil, false, fmt.Errorf("load %s: chunk %s vanished: %w", basePath, chunkPath, ErrConflict)
		}
		chunks = append(chunks, Chunk{Path: chunkPath, Doc: doc})
	}
	merged, err := MergeChunks(chunks)
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", basePath, err)
	}
	return merged, true, nil
}

// SaveCollection writes coll under basePath, as one file when it fits under
// MaxFileSize and as a chunk set otherwise. Files left over from the other
// layout, or from a previous larger chunk set, are deleted afterwards.
func (c *Client) SaveCollection(ctx context.Context, basePath string, coll *Collection, message string) error {
	coll.Touch(c.now())
	plan, err := PlanCollection(coll, basePath)
	if err != nil {
		return fmt.Errorf("save %s: %w", basePath, err)
	}

	for _, file := range plan.Files {
		snapshot, found, err := c.Read(ctx, file.Path)
		if err != nil {
			return err
		}
		var token Token
		if found {
			token = snapshot.Token
		}
		if _, err := c.Write(ctx, file.Path, file.Doc, message, token); err != nil {
			return err
		}
	}

	existing, err := c.chunkPaths(ctx, basePath)
	if err != nil {
		return err
	}
	if plan.Chunked {
		for _, chunkPath := range existing {
			if _, index, _ := ParseSplitFileName(chunkPath); index >= len(plan.Files) {
				if err := c.Delete(ctx, chunkPath, message); err != nil {
					return err
				}
			}
		}
		if err := c.Delete(ctx, basePath, message); err != nil {
			return err
		}
		c.logger.Info("docstore: saved chunked collection",
			"path", basePath,
			"chunks", len(plan.Files),
			"bytes", plan.Size,
		)
		return nil
	}
	for _, chunkPath := range existing {
		if err := c.Delete(ctx, chunkPath, message); err != nil {
			return err
		}
	}
	return nil
}

// SaveDocument writes an arbitrary JSON document, chunking it when it is a
// collection with records under key and too large for one file.
func (c *Client) SaveDocument(ctx context.Context, basePath, key string, raw []byte, message string) (WritePlan, error) {
	plan, err := PlanWrite(raw, basePath, key)
	if err != nil {
		return WritePlan{}, err
	}
	if plan.Opaque == nil {
		coll, err := DecodeCollection(raw, key)
		if err != nil {
			return WritePlan{}, err
		}
		return plan, c.SaveCollection(ctx, basePath, coll, message)
	}
	if plan.Oversized {
		c.logger.Warn("docstore: document exceeds the single-file ceiling and has no records to split",
			"path", basePath,
			"bytes", plan.Size,
			"limit", MaxFileSize,
		)
	}
	snapshot, found, err := c.Read(ctx, basePath)
	if err != nil {
		return WritePlan{}, err
	}
	var token Token
	if found {
		token = snapshot.Token
	}
	content, err := Marshal(plan.Opaque)
	if err != nil {
		return WritePlan{}, err
	}
	_, err = c.writeContent(ctx, basePath, content, message, token)
	return plan, err
}

// chunkPaths lists the chunk files of basePath in index order.
func (c *Client) chunkPaths(ctx context.Context, basePath string) ([]string, error) {
	dir := path.Dir(basePath)
	if dir == "." {
		dir = ""
	}
	names, err := c.host.ListDir(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	type indexed struct {
		path  string
		index int
	}
	var found []indexed
	for _, name := range names {
		base, index, ok := ParseSplitFileName(name)
		if !ok || base != basePath {
			continue
		}
		found = append(found, indexed{path: name, index: index})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].index < found[j].index })
	paths := make([]string, len(found))
	for i, item := range found {
		paths[i] = item.path
	}
	return paths, nil
}
