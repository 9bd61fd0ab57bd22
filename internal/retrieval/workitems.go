package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/vectorindex"
	"github.com/fyrsmithlabs/ingestd/internal/workitems"
)

// ItemContext is the retrieved context of one work item.
type ItemContext struct {
	Item     workitems.WorkItem             `json:"item"`
	Query    string                         `json:"query"`
	Chunks   []Chunk                        `json:"chunks"`
	Failures []vectorindex.NamespaceFailure `json:"failures,omitempty"`
}

// LabelContext groups the contexts of every work item matching a label.
type LabelContext struct {
	Label string        `json:"label"`
	Items []ItemContext `json:"items"`
}

// ContextForLabel finds work items whose labels fuzzy-match label and
// retrieves topK chunks for each, queried with the item's labels and
// description.
func (s *Service) ContextForLabel(ctx context.Context, label string, topK int) (*LabelContext, error) {
	ctx, span := tracer.Start(ctx, "Service.ContextForLabel")
	defer span.End()

	if s.items == nil {
		return nil, ErrNoWorkItemSource
	}
	if strings.TrimSpace(label) == "" {
		return nil, ErrEmptyQuery
	}
	topK = s.topK(topK)

	items, err := s.items.Search(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("searching work items: %w", err)
	}
	matched := workitems.FilterByLabel(items, label, s.cfg.LabelThreshold)
	s.logger.Debug("work items matched label",
		zap.String("label", label),
		zap.Int("fetched", len(items)),
		zap.Int("matched", len(matched)),
	)
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w %q", ErrNoWorkItems, label)
	}

	queries := make([]string, len(matched))
	for i, it := range matched {
		queries[i] = QueryText(it)
	}
	vectors, err := s.embedder.Embed(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("embedding work-item queries: %w", err)
	}

	out := &LabelContext{Label: label, Items: make([]ItemContext, 0, len(matched))}
	sel := s.selection(Request{})
	for i, it := range matched {
		res, err := s.scatter(ctx, vectors[i], topK, topK, sel)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, ItemContext{
			Item:     it,
			Query:    queries[i],
			Chunks:   res.Chunks,
			Failures: res.Failures,
		})
	}
	queriesTotal.WithLabelValues("label_context").Inc()
	return out, nil
}

// QueryText is the retrieval query for a work item: its labels, then its
// description.
func QueryText(it workitems.WorkItem) string {
	return strings.TrimSpace(strings.Join(it.Labels, " ") + " " + it.Description)
}
