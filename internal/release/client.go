package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// defaultAPIBase is the GitHub REST API endpoint.
const defaultAPIBase = "https://api.github.com"

// Client is a minimal GitHub releases API client.
type Client struct {
	hc      *http.Client
	apiBase string
	token   string
}

// NewClient creates a new releases client. apiBase may be empty to use the
// public GitHub API; the token authenticates every request.
func NewClient(apiBase, token string) *Client {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &Client{
		hc: &http.Client{
			Timeout: 60 * time.Second,
		},
		apiBase: strings.TrimRight(apiBase, "/"),
		token:   token,
	}
}

// CreateReleaseRequest is the payload for creating a release.
type CreateReleaseRequest struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	Body    string `json:"body"`
	Draft   bool   `json:"draft"`
}

// GitHubRelease represents a created release.
type GitHubRelease struct {
	ID        int64  `json:"id"`
	TagName   string `json:"tag_name"`
	Name      string `json:"name"`
	HTMLURL   string `json:"html_url"`
	UploadURL string `json:"upload_url"`
}

// CreateRelease creates a release for a tag.
func (c *Client) CreateRelease(ctx context.Context, owner, repo string, create *CreateReleaseRequest) (*GitHubRelease, error) {
	body, err := json.Marshal(create)
	if err != nil {
		return nil, fmt.Errorf("marshaling release request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/repos/%s/%s/releases", c.apiBase, owner, repo)
	req, err := http.NewRequestWithContext(ctx, "POST", apiURL, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("failed to create release: status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var rel GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// GetReleaseByTag fetches an existing release by its tag.
func (c *Client) GetReleaseByTag(ctx context.Context, owner, repo, tag string) (*GitHubRelease, error) {
	apiURL := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", c.apiBase, owner, repo, url.PathEscape(tag))
	req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get release: status %d", resp.StatusCode)
	}

	var rel GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// DeleteRelease deletes a release. Used to roll back a partially published
// release so no half-released state survives a failure.
func (c *Client) DeleteRelease(ctx context.Context, owner, repo string, releaseID int64) error {
	apiURL := fmt.Sprintf("%s/repos/%s/%s/releases/%d", c.apiBase, owner, repo, releaseID)
	req, err := http.NewRequestWithContext(ctx, "DELETE", apiURL, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("failed to delete release: status %d", resp.StatusCode)
	}
	return nil
}

// UploadAsset uploads one archive to a release. uploadURL is the templated
// upload_url returned by CreateRelease.
func (c *Client) UploadAsset(ctx context.Context, uploadURL, name string, content io.Reader, size int64) error {
	target := expandUploadURL(uploadURL, name)

	req, err := http.NewRequestWithContext(ctx, "POST", target, content)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/zip")
	req.ContentLength = size

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("failed to upload asset %s: status %d: %s", name, resp.StatusCode, readErrorBody(resp.Body))
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
}

// expandUploadURL replaces the {?name,label} template suffix with the asset
// name query parameter.
func expandUploadURL(uploadURL, name string) string {
	if idx := strings.Index(uploadURL, "{"); idx != -1 {
		uploadURL = uploadURL[:idx]
	}
	return uploadURL + "?name=" + url.QueryEscape(name)
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	return strings.TrimSpace(string(data))
}
