package workitems

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	defaultGitHubMaxResults = 100
	githubPageSize          = 100
)

// GitHubConfig configures a GitHubSource.
type GitHubConfig struct {
	Token string

	// Query is a GitHub issue search query, for example
	// "repo:acme/ledger is:issue is:open".
	Query      string
	MaxResults int

	// BaseURL overrides the API endpoint (GitHub Enterprise, tests).
	BaseURL string
}

// GitHubSource searches GitHub issues.
type GitHubSource struct {
	client *github.Client
	cfg    GitHubConfig
	logger *zap.Logger
}

// NewGitHubSource creates a GitHubSource authenticated with cfg.Token.
func NewGitHubSource(ctx context.Context, cfg GitHubConfig, logger *zap.Logger) (*GitHubSource, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: github token is required", ErrNotConfigured)
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultGitHubMaxResults
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid github base URL: %w", err)
		}
		client.BaseURL = base
	}

	return &GitHubSource{client: client, cfg: cfg, logger: logger}, nil
}

// Search runs query, or the configured query when empty.
func (s *GitHubSource) Search(ctx context.Context, query string) ([]WorkItem, error) {
	if query == "" {
		query = s.cfg.Query
	}
	if query == "" {
		return nil, fmt.Errorf("%w: github search query is empty", ErrNotConfigured)
	}

	opts := &github.SearchOptions{
		Sort:        "updated",
		Order:       "desc",
		ListOptions: github.ListOptions{PerPage: min(githubPageSize, s.cfg.MaxResults)},
	}

	var items []WorkItem
	for len(items) < s.cfg.MaxResults {
		result, resp, err := s.client.Search.Issues(ctx, query, opts)
		if err != nil {
			return nil, fmt.Errorf("github issue search: %w", err)
		}
		for _, issue := range result.Issues {
			if len(items) == s.cfg.MaxResults {
				break
			}
			items = append(items, issueToWorkItem(issue))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	s.logger.Debug("github search", zap.String("query", query), zap.Int("issues", len(items)))
	return items, nil
}

func issueToWorkItem(issue *github.Issue) WorkItem {
	project := repoFromURL(issue.GetRepositoryURL())
	item := WorkItem{
		Key:         fmt.Sprintf("%s#%d", project, issue.GetNumber()),
		Summary:     issue.GetTitle(),
		Description: issue.GetBody(),
		Status:      issue.GetState(),
		Assignee:    issue.GetAssignee().GetLogin(),
		Project:     project,
		IssueType:   "issue",
		Labels:      make([]string, 0, len(issue.Labels)),
		Created:     issue.GetCreatedAt().Time,
		Updated:     issue.GetUpdatedAt().Time,
	}
	if issue.IsPullRequest() {
		item.IssueType = "pull_request"
	}
	for _, l := range issue.Labels {
		item.Labels = append(item.Labels, l.GetName())
	}
	if m := issue.GetMilestone(); m != nil {
		item.Components = []string{m.GetTitle()}
	}
	return item
}

// repoFromURL turns https://api.github.com/repos/acme/ledger into
// acme/ledger.
func repoFromURL(u string) string {
	if i := strings.Index(u, "/repos/"); i >= 0 {
		return u[i+len("/repos/"):]
	}
	return u
}
