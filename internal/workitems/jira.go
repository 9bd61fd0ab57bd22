package workitems

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultJQL selects stories, most recently updated first.
	DefaultJQL = "issuetype = Story ORDER BY updated DESC"

	defaultJiraMaxResults = 200
	jiraPageSize          = 100
	jiraSearchPath        = "/rest/api/3/search/jql"
	jiraTimeLayout        = "2006-01-02T15:04:05.000-0700"
)

var jiraFieldNames = []string{
	"summary", "status", "assignee", "priority", "created", "updated",
	"project", "issuetype", "labels", "components", "description",
}

// JiraConfig configures a JiraSource.
type JiraConfig struct {
	BaseURL    string
	Email      string
	Token      string
	JQL        string
	MaxResults int

	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Timeout   time.Duration
}

// JiraSource searches Jira Cloud with JQL using basic auth.
type JiraSource struct {
	cfg        JiraConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewJiraSource creates a JiraSource.
func NewJiraSource(cfg JiraConfig, logger *zap.Logger) (*JiraSource, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, fmt.Errorf("%w: jira base URL and token are required", ErrNotConfigured)
	}
	if cfg.JQL == "" {
		cfg.JQL = DefaultJQL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultJiraMaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &JiraSource{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		logger:     logger,
	}, nil
}

type jiraSearchResponse struct {
	Issues        []jiraIssue `json:"issues"`
	NextPageToken string      `json:"nextPageToken"`
	IsLast        bool        `json:"isLast"`
}

type jiraIssue struct {
	Key    string     `json:"key"`
	Fields jiraFields `json:"fields"`
}

type jiraNamed struct {
	Name        string `json:"name"`
	Key         string `json:"key"`
	DisplayName string `json:"displayName"`
}

type jiraFields struct {
	Summary     string          `json:"summary"`
	Status      *jiraNamed      `json:"status"`
	Assignee    *jiraNamed      `json:"assignee"`
	Priority    *jiraNamed      `json:"priority"`
	Project     *jiraNamed      `json:"project"`
	IssueType   *jiraNamed      `json:"issuetype"`
	Labels      []string        `json:"labels"`
	Components  []jiraNamed     `json:"components"`
	Description json.RawMessage `json:"description"`
	Created     string          `json:"created"`
	Updated     string          `json:"updated"`
}

// Search runs jql, or the configured JQL when empty, following page tokens
// until MaxResults items are read.
func (s *JiraSource) Search(ctx context.Context, jql string) ([]WorkItem, error) {
	if jql == "" {
		jql = s.cfg.JQL
	}

	var items []WorkItem
	token := ""
	for len(items) < s.cfg.MaxResults {
		page, err := s.searchPage(ctx, jql, token, min(jiraPageSize, s.cfg.MaxResults-len(items)))
		if err != nil {
			return nil, err
		}
		for _, issue := range page.Issues {
			items = append(items, issue.toWorkItem())
		}
		if page.IsLast || page.NextPageToken == "" || len(page.Issues) == 0 {
			break
		}
		token = page.NextPageToken
	}

	s.logger.Debug("jira search", zap.String("jql", jql), zap.Int("issues", len(items)))
	return items, nil
}

func (s *JiraSource) searchPage(ctx context.Context, jql, token string, limit int) (*jiraSearchResponse, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	q := url.Values{}
	q.Set("jql", jql)
	q.Set("maxResults", strconv.Itoa(limit))
	q.Set("fields", strings.Join(jiraFieldNames, ","))
	if token != "" {
		q.Set("nextPageToken", token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+jiraSearchPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(s.cfg.Email, s.cfg.Token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jira request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jira returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var page jiraSearchResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode jira response: %w", err)
	}
	return &page, nil
}

func (i jiraIssue) toWorkItem() WorkItem {
	f := i.Fields
	item := WorkItem{
		Key:         i.Key,
		Summary:     f.Summary,
		Description: descriptionText(f.Description),
		Status:      name(f.Status),
		Priority:    name(f.Priority),
		IssueType:   name(f.IssueType),
		Labels:      f.Labels,
		Created:     parseJiraTime(f.Created),
		Updated:     parseJiraTime(f.Updated),
	}
	if item.Labels == nil {
		item.Labels = []string{}
	}
	if f.Assignee != nil {
		item.Assignee = f.Assignee.DisplayName
	}
	if f.Project != nil {
		item.Project = f.Project.Key
	}
	for _, c := range f.Components {
		item.Components = append(item.Components, c.Name)
	}
	return item
}

func name(n *jiraNamed) string {
	if n == nil {
		return ""
	}
	return n.Name
}

func parseJiraTime(s string) time.Time {
	for _, layout := range []string{jiraTimeLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// adfNode is a node of an Atlassian Document Format tree.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

// descriptionText flattens a description that is either a plain string
// (API v2) or an ADF document (API v3).
func descriptionText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var plain string
	if json.Unmarshal(raw, &plain) == nil {
		return plain
	}
	var doc adfNode
	if json.Unmarshal(raw, &doc) != nil {
		return ""
	}
	var b strings.Builder
	writeADF(&b, doc)
	return strings.TrimSpace(b.String())
}

func writeADF(b *strings.Builder, n adfNode) {
	switch n.Type {
	case "text":
		b.WriteString(n.Text)
		return
	case "hardBreak":
		b.WriteByte('\n')
		return
	}
	for _, c := range n.Content {
		writeADF(b, c)
	}
	switch n.Type {
	case "paragraph", "heading", "listItem", "codeBlock", "blockquote":
		b.WriteByte('\n')
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
