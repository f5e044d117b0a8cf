package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"formvault/api/internal/docstore"
)

var _ docstore.Host = (*Client)(nil)

// contentEntry is one item of a contents API response.
type contentEntry struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

type putBody struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

type deleteBody struct {
	Message string `json:"message"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

// GetFile returns the file at path with its blob sha. Files above the
// inline limit of the API come back without content and are fetched again
// through the raw media type.
func (client *Client) GetFile(ctx context.Context, path string) (docstore.File, error) {
	endpoint := client.contentsPath(path) + client.refQuery()
	body, err := client.do(ctx, http.MethodGet, endpoint, acceptJSON, nil)
	if err != nil {
		return docstore.File{}, translate(err)
	}

	var entry contentEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return docstore.File{}, fmt.Errorf("github: %s is not a file: %w", path, err)
	}
	if entry.Type != "" && entry.Type != "file" {
		return docstore.File{}, &docstore.HostError{Status: http.StatusUnprocessableEntity, Message: fmt.Sprintf("%s is a %s", path, entry.Type)}
	}

	if entry.Encoding == "base64" && (entry.Content != "" || entry.Size == 0) {
		content, err := docstore.DecodeTransport(entry.Content)
		if err != nil {
			return docstore.File{}, fmt.Errorf("github: %s: %w", path, err)
		}
		return docstore.File{Content: content, Token: docstore.Token(entry.SHA)}, nil
	}

	client.logger.Debug("github: fetching raw content", "path", path, "size", entry.Size)
	content, err := client.do(ctx, http.MethodGet, endpoint, acceptRaw, nil)
	if err != nil {
		return docstore.File{}, translate(err)
	}
	return docstore.File{Content: content, Token: docstore.Token(entry.SHA)}, nil
}

// PutFile creates or updates path with one commit on the configured branch.
func (client *Client) PutFile(ctx context.Context, path string, req docstore.PutRequest) (docstore.Token, error) {
	body, err := client.do(ctx, http.MethodPut, client.contentsPath(path), acceptJSON, putBody{
		Message: req.Message,
		Content: docstore.EncodeTransport(req.Content),
		Branch:  client.branch,
		SHA:     string(req.Token),
	})
	if err != nil {
		err = translate(err)
		// Updating a file that was deleted meanwhile also means the token
		// is stale.
		if req.Token != "" && errors.Is(err, docstore.ErrNotFound) {
			return "", fmt.Errorf("%w: %s no longer exists", docstore.ErrConflict, path)
		}
		return "", err
	}

	var response putResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("github: decoding put response: %w", err)
	}
	client.logger.Debug("github: committed",
		"path", path,
		"commit", response.Commit.SHA,
		"sha", response.Content.SHA,
	)
	return docstore.Token(response.Content.SHA), nil
}

func (client *Client) DeleteFile(ctx context.Context, path string, token docstore.Token, message string) error {
	_, err := client.do(ctx, http.MethodDelete, client.contentsPath(path), acceptJSON, deleteBody{
		Message: message,
		SHA:     string(token),
		Branch:  client.branch,
	})
	if err != nil {
		return translate(err)
	}
	return nil
}

// ListDir returns the paths of the files directly inside dir. A missing
// directory is empty; a missing repository root is an error.
func (client *Client) ListDir(ctx context.Context, dir string) ([]string, error) {
	body, err := client.do(ctx, http.MethodGet, client.contentsPath(dir)+client.refQuery(), acceptJSON, nil)
	if err != nil {
		if IsNotFound(err) {
			if dir == "" {
				return nil, &docstore.HostError{
					Status:  http.StatusNotFound,
					Message: err.Error(),
					Hint:    fmt.Sprintf("repository %s/%s or branch %s not found", client.owner, client.repo, client.branch),
					Cause:   err,
				}
			}
			return nil, nil
		}
		return nil, translate(err)
	}

	var entries []contentEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("github: %s is not a directory", dir)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type == "file" {
			paths = append(paths, entry.Path)
		}
	}
	return paths, nil
}
