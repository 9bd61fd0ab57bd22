// Package workitems fetches issues from Jira and GitHub for label-scoped
// retrieval.
package workitems

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/ingestd/internal/labelmatch"
)

// ErrNotConfigured is returned when a source lacks credentials or a URL.
var ErrNotConfigured = errors.New("work-item source not configured")

// WorkItem is one issue, read-only to the rest of the system.
type WorkItem struct {
	Key         string    `json:"key"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status,omitempty"`
	Assignee    string    `json:"assignee,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	Project     string    `json:"project,omitempty"`
	IssueType   string    `json:"issue_type,omitempty"`
	Labels      []string  `json:"labels"`
	Components  []string  `json:"components,omitempty"`
	Created     time.Time `json:"created,omitzero"`
	Updated     time.Time `json:"updated,omitzero"`
}

// Source searches a work-item tracker. An empty query uses the source's
// configured default.
type Source interface {
	Search(ctx context.Context, query string) ([]WorkItem, error)
}

// FilterByLabel keeps the items with a label matching label at threshold.
func FilterByLabel(items []WorkItem, label string, threshold int) []WorkItem {
	var out []WorkItem
	for _, it := range items {
		if labelmatch.Matches(label, it.Labels, threshold) {
			out = append(out, it)
		}
	}
	return out
}
