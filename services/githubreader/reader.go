package githubreader

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	githubAPIBase  = "https://api.github.com"
	requestTimeout = 20 * time.Second

	SourceRaw = "raw"
	SourceAPI = "api"
)

// ErrDirectory is returned when the URL resolves to a directory listing
// instead of a file.
var ErrDirectory = errors.New("the provided URL points to a directory, not a file")

// Result holds a fetched GitHub file
type Result struct {
	FileName  string `json:"file_name"`
	Content   string `json:"content"`
	SizeBytes int    `json:"size_bytes"`
	Source    string `json:"source"` // raw or api
}

// Reader fetches files from GitHub, via the contents API when a token
// is supplied and raw.githubusercontent.com otherwise.
type Reader struct {
	httpClient *http.Client
	apiBase    string
}

// NewReader creates a reader with default timeouts
func NewReader() *Reader {
	return &Reader{
		httpClient: &http.Client{Timeout: requestTimeout},
		apiBase:    githubAPIBase,
	}
}

// ReadFile reads a GitHub file from a standard blob or raw URL. A token
// switches to the contents API, which also works for private repos.
func (r *Reader) ReadFile(ctx context.Context, url, token string) (*Result, error) {
	if url == "" {
		return nil, errors.New("url is required")
	}

	if token != "" {
		return r.fetchViaAPI(ctx, url, token)
	}

	rawURL := url
	if converted, ok := convertBlobToRaw(url); ok {
		rawURL = converted
	}
	return r.fetchRaw(ctx, rawURL)
}

// fetchRaw downloads a public file from its raw URL
func (r *Reader) fetchRaw(ctx context.Context, url string) (*Result, error) {
	body, err := r.get(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	return &Result{
		FileName:  inferFileName(url),
		Content:   string(body),
		SizeBytes: len(body),
		Source:    SourceRaw,
	}, nil
}

// fetchViaAPI reads a file through the GitHub contents API
func (r *Reader) fetchViaAPI(ctx context.Context, url, token string) (*Result, error) {
	owner, repo, ref, path, err := parseGitHubURL(url)
	if err != nil {
		return nil, err
	}

	apiURL := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s", r.apiBase, owner, repo, path, ref)
	headers := map[string]string{
		"Accept":        "application/vnd.github.v3+json",
		"Authorization": "Bearer " + token,
	}

	body, err := r.get(ctx, apiURL, headers)
	if err != nil {
		return nil, err
	}

	// A directory listing comes back as a JSON array.
	if bytes.HasPrefix(bytes.TrimSpace(body), []byte("[")) {
		return nil, ErrDirectory
	}

	var payload struct {
		Name        string `json:"name"`
		Encoding    string `json:"encoding"`
		Content     string `json:"content"`
		DownloadURL string `json:"download_url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode github api response: %w", err)
	}

	var content []byte
	if payload.Encoding == "base64" && payload.Content != "" {
		// GitHub wraps base64 content with newlines.
		cleaned := strings.ReplaceAll(payload.Content, "\n", "")
		content, err = base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("failed to decode file content: %w", err)
		}
	} else {
		if payload.DownloadURL == "" {
			return nil, errors.New("unable to retrieve file content from github api response")
		}
		content, err = r.get(ctx, payload.DownloadURL, map[string]string{
			"Authorization": "Bearer " + token,
		})
		if err != nil {
			return nil, err
		}
	}

	fileName := payload.Name
	if fileName == "" {
		fileName = inferFileName(url)
	}

	return &Result{
		FileName:  fileName,
		Content:   string(content),
		SizeBytes: len(content),
		Source:    SourceAPI,
	}, nil
}

// get performs a GET request and returns the response body
func (r *Reader) get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("github returned status %d for %s", resp.StatusCode, url)
	}
	return body, nil
}

// convertBlobToRaw rewrites a github.com blob URL to its
// raw.githubusercontent.com equivalent.
func convertBlobToRaw(url string) (string, bool) {
	const prefix = "https://github.com/"
	if !strings.HasPrefix(url, prefix) || !strings.Contains(url, "/blob/") {
		return "", false
	}

	parts := strings.Split(strings.TrimPrefix(url, prefix), "/")
	blobIndex := -1
	for i, part := range parts {
		if part == "blob" {
			blobIndex = i
			break
		}
	}
	if blobIndex < 2 || blobIndex+2 >= len(parts) {
		return "", false
	}

	owner, repo := parts[0], parts[1]
	ref := parts[blobIndex+1]
	path := strings.Join(parts[blobIndex+2:], "/")
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", owner, repo, ref, path), true
}

// parseGitHubURL extracts owner, repo, ref and path from a raw or blob
// URL.
func parseGitHubURL(url string) (owner, repo, ref, path string, err error) {
	const rawPrefix = "https://raw.githubusercontent.com/"
	if strings.HasPrefix(url, rawPrefix) {
		parts := strings.Split(strings.TrimPrefix(url, rawPrefix), "/")
		if len(parts) < 4 {
			return "", "", "", "", errors.New("invalid raw.githubusercontent.com URL format")
		}
		return parts[0], parts[1], parts[2], strings.Join(parts[3:], "/"), nil
	}

	if converted, ok := convertBlobToRaw(url); ok {
		return parseGitHubURL(converted)
	}

	return "", "", "", "", errors.New("unsupported GitHub URL, provide a standard blob or raw URL")
}

// inferFileName returns the last path segment of a URL
func inferFileName(url string) string {
	trimmed := strings.TrimRight(url, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}
