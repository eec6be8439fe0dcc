package labelsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// LabelPrefix marks the labels this package owns on an issue.
const LabelPrefix = "agent:"

// GitHubClient replaces the agent labels of GitHub issues.
type GitHubClient struct {
	baseURL string
	http    *http.Client
}

// NewGitHubClient returns a client authenticating with a personal access token.
func NewGitHubClient(ctx context.Context, baseURL, token string) *GitHubClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHubClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    oauth2.NewClient(ctx, ts),
	}
}

type githubLabel struct {
	Name string `json:"name"`
}

// ReplaceAgentLabel swaps every agent:* label on the issue for label,
// leaving other labels untouched.
func (c *GitHubClient) ReplaceAgentLabel(ctx context.Context, fullName string, issue int64, label string) error {
	path := fmt.Sprintf("%s/repos/%s/issues/%d/labels", c.baseURL, fullName, issue)

	current, err := c.listLabels(ctx, path+"?per_page=100")
	if err != nil {
		return fmt.Errorf("list labels: %w", err)
	}

	names := []string{label}
	for _, l := range current {
		if !strings.HasPrefix(l.Name, LabelPrefix) {
			names = append(names, l.Name)
		}
	}

	body := map[string][]string{"labels": names}
	if _, err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("set labels: %w", err)
	}
	return nil
}

// listLabels follows the Link header until every page has been read.
func (c *GitHubClient) listLabels(ctx context.Context, url string) ([]githubLabel, error) {
	var all []githubLabel
	for url != "" {
		var page []githubLabel
		header, err := c.do(ctx, http.MethodGet, url, nil, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		url = nextPage(header.Get("Link"))
	}
	return all, nil
}

// nextPage extracts the rel="next" target of a GitHub Link header.
func nextPage(link string) string {
	for _, part := range strings.Split(link, ",") {
		target, params, ok := strings.Cut(strings.TrimSpace(part), ";")
		if !ok || !strings.Contains(params, `rel="next"`) {
			continue
		}
		return strings.Trim(strings.TrimSpace(target), "<>")
	}
	return ""
}

func (c *GitHubClient) do(ctx context.Context, method, url string, body, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("github returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.Header, nil
}
