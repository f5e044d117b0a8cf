// Package github stores documents in a GitHub repository through the REST
// contents API. A Client implements docstore.Host: the file sha reported by
// GitHub is the precondition token, and the API's 409 response is the
// conflict signal.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	githubAPIVersion = "2022-11-28"
	defaultBaseURL   = "https://api.github.com"
	defaultBranch    = "main"

	acceptJSON = "application/vnd.github+json"
	acceptRaw  = "application/vnd.github.raw+json"

	maxResponseSize  = 64 << 20
	maxRateLimitWait = 2 * time.Minute
)

// Config holds the repository coordinates and credentials of a Client.
type Config struct {
	// BaseURL is the API root. Defaults to https://api.github.com. Must use
	// HTTPS unless it points at a loopback address.
	BaseURL string
	// Token is a personal access or fine-grained token with contents
	// read/write permission on the repository.
	Token  string
	Owner  string
	Repo   string
	Branch string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a contents API client bound to one repository branch.
type Client struct {
	baseURL    string
	token      string
	owner      string
	repo       string
	branch     string
	httpClient *http.Client
	logger     *slog.Logger
	after      func(time.Duration) <-chan time.Time
}

func NewClient(config Config) (*Client, error) {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if err := checkScheme(baseURL); err != nil {
		return nil, err
	}
	if config.Token == "" {
		return nil, fmt.Errorf("github: no token configured")
	}
	if config.Owner == "" || config.Repo == "" {
		return nil, fmt.Errorf("github: owner and repo are required")
	}

	branch := config.Branch
	if branch == "" {
		branch = defaultBranch
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		token:      config.Token,
		owner:      config.Owner,
		repo:       config.Repo,
		branch:     branch,
		httpClient: httpClient,
		logger:     logger,
		after:      time.After,
	}, nil
}

func checkScheme(baseURL string) error {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("github: invalid base URL %q: %w", baseURL, err)
	}
	if parsed.Scheme == "https" {
		return nil
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host == "localhost" {
			return nil
		}
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			return nil
		}
	}
	return fmt.Errorf("github: API client requires HTTPS (got %q)", baseURL)
}

// Branch returns the branch every read and write targets.
func (client *Client) Branch() string {
	return client.branch
}

// contentsPath builds the contents endpoint for a repository path. Each
// segment is escaped on its own so slashes keep separating directories.
func (client *Client) contentsPath(filePath string) string {
	segments := strings.Split(strings.Trim(filePath, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	endpoint := fmt.Sprintf("/repos/%s/%s/contents", url.PathEscape(client.owner), url.PathEscape(client.repo))
	if joined := strings.Join(segments, "/"); joined != "" {
		endpoint += "/" + joined
	}
	return endpoint
}

func (client *Client) refQuery() string {
	return "?ref=" + url.QueryEscape(client.branch)
}

// do runs one authenticated request and returns the body of a 2xx response.
// Rate-limited responses are retried once after the advertised wait.
func (client *Client) do(ctx context.Context, method, path, accept string, requestBody any) ([]byte, error) {
	return client.doWithRetry(ctx, method, path, accept, requestBody, false)
}

func (client *Client) doWithRetry(ctx context.Context, method, path, accept string, requestBody any, isRetry bool) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("github: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("github: creating request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+client.token)
	request.Header.Set("Accept", accept)
	request.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("github: reading response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return body, nil
	}

	if !isRetry && (response.StatusCode == http.StatusTooManyRequests ||
		(response.StatusCode == http.StatusForbidden && isRateLimitMessage(string(body)))) {
		if wait := retryAfter(response.Header, time.Now()); wait > 0 {
			client.logger.Info("github: rate limited, backing off",
				"duration", wait,
				"method", method,
				"path", path,
			)
			select {
			case <-client.after(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return client.doWithRetry(ctx, method, path, accept, requestBody, true)
		}
	}

	return nil, parseAPIErrorFromBody(response.StatusCode, body)
}

// retryAfter reads the wait GitHub asks for, from Retry-After or from the
// primary rate limit reset time. Waits are capped at maxRateLimitWait.
func retryAfter(header http.Header, now time.Time) time.Duration {
	var wait time.Duration
	if value := header.Get("Retry-After"); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			wait = time.Duration(seconds) * time.Second
		}
	} else if header.Get("X-RateLimit-Remaining") == "0" {
		if reset, err := strconv.ParseInt(header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			wait = time.Unix(reset, 0).Sub(now)
		}
	}
	if wait > maxRateLimitWait {
		wait = maxRateLimitWait
	}
	return wait
}
