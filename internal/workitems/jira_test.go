package workitems

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jiraPage1 = `{
  "issues": [
    {
      "key": "PAY-1",
      "fields": {
        "summary": "Retry failed payouts",
        "status": {"name": "In Progress"},
        "assignee": {"displayName": "Sam Doe"},
        "priority": {"name": "High"},
        "project": {"key": "PAY", "name": "Payments"},
        "issuetype": {"name": "Story"},
        "labels": ["payment-retry", "backend"],
        "components": [{"name": "payouts"}],
        "description": {
          "type": "doc",
          "content": [
            {"type": "paragraph", "content": [{"type": "text", "text": "Retry with backoff."}]},
            {"type": "paragraph", "content": [{"type": "text", "text": "Cap at five attempts."}]}
          ]
        },
        "created": "2024-03-01T10:00:00.000+0000",
        "updated": "2024-03-02T11:30:00.000+0000"
      }
    }
  ],
  "nextPageToken": "page-2",
  "isLast": false
}`

const jiraPage2 = `{
  "issues": [
    {"key": "PAY-2", "fields": {"summary": "Ledger export", "labels": null, "description": "plain text"}}
  ],
  "isLast": true
}`

func TestJiraSource_Search(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, jiraSearchPath, r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "qa@example.com", user)
		assert.Equal(t, "token", pass)
		assert.Equal(t, DefaultJQL, r.URL.Query().Get("jql"))
		assert.Contains(t, r.URL.Query().Get("fields"), "labels")

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("nextPageToken") == "page-2" {
			_, _ = w.Write([]byte(jiraPage2))
			return
		}
		_, _ = w.Write([]byte(jiraPage1))
	}))
	defer server.Close()

	src, err := NewJiraSource(JiraConfig{BaseURL: server.URL + "/", Email: "qa@example.com", Token: "token"}, nil)
	require.NoError(t, err)

	items, err := src.Search(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 2, requests)

	first := items[0]
	assert.Equal(t, "PAY-1", first.Key)
	assert.Equal(t, "Retry failed payouts", first.Summary)
	assert.Equal(t, "In Progress", first.Status)
	assert.Equal(t, "Sam Doe", first.Assignee)
	assert.Equal(t, "High", first.Priority)
	assert.Equal(t, "PAY", first.Project)
	assert.Equal(t, "Story", first.IssueType)
	assert.Equal(t, []string{"payment-retry", "backend"}, first.Labels)
	assert.Equal(t, []string{"payouts"}, first.Components)
	assert.Equal(t, "Retry with backoff.\nCap at five attempts.", first.Description)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), first.Created.UTC())

	assert.Equal(t, "plain text", items[1].Description)
	assert.Equal(t, []string{}, items[1].Labels)
}

func TestJiraSource_MaxResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("maxResults"))
		_, _ = w.Write([]byte(jiraPage1))
	}))
	defer server.Close()

	src, err := NewJiraSource(JiraConfig{BaseURL: server.URL, Token: "t", MaxResults: 1}, nil)
	require.NoError(t, err)

	items, err := src.Search(context.Background(), "project = PAY")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestJiraSource_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, strings.Repeat("x", 500), http.StatusUnauthorized)
	}))
	defer server.Close()

	src, err := NewJiraSource(JiraConfig{BaseURL: server.URL, Token: "t"}, nil)
	require.NoError(t, err)

	_, err = src.Search(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestNewJiraSource_NotConfigured(t *testing.T) {
	_, err := NewJiraSource(JiraConfig{}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFilterByLabel(t *testing.T) {
	items := []WorkItem{
		{Key: "A", Labels: []string{"payment-retry"}},
		{Key: "B", Labels: []string{"frontend"}},
		{Key: "C", Labels: nil},
	}
	got := FilterByLabel(items, "Payment Retry", 70)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Key)
}
