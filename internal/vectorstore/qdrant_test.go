package vectorstore

import (
	"errors"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/ingestd/internal/filter"
)

func TestQdrantConfig_Defaults(t *testing.T) {
	var cfg QdrantConfig
	cfg.ApplyDefaults()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
	assert.Equal(t, 5, cfg.CircuitBreakerThreshold)
	require.NoError(t, cfg.Validate())

	cfg.Port = 70000
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"unavailable", status.Error(codes.Unavailable, "down"), true},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), true},
		{"exhausted", status.Error(codes.ResourceExhausted, "busy"), true},
		{"not found", status.Error(codes.NotFound, "gone"), false},
		{"invalid", status.Error(codes.InvalidArgument, "bad"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}

func TestPointID_Deterministic(t *testing.T) {
	a := PointID("mongodb-files", "doc_0")
	assert.Equal(t, a, PointID("mongodb-files", "doc_0"))
	assert.NotEqual(t, a, PointID("postgresql-data", "doc_0"))
	assert.Len(t, a, 36)
}

func TestDistanceMapping(t *testing.T) {
	for _, m := range []Metric{MetricCosine, MetricEuclidean, MetricDotProduct} {
		d, err := toDistance(m)
		require.NoError(t, err)
		assert.Equal(t, m, fromDistance(d))
	}
	_, err := toDistance("manhattan")
	assert.ErrorIs(t, err, ErrUnsupportedMetric)
}

func TestToQdrantFilter_NamespaceOnly(t *testing.T) {
	f := toQdrantFilter("ns1", nil)
	require.Len(t, f.Must, 1)
	field := f.Must[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, payloadNamespace, field.Key)
	assert.Equal(t, "ns1", field.GetMatch().GetKeyword())
}

func TestToQdrantFilter_Expression(t *testing.T) {
	expr := filter.Build(filter.Params{
		RestrictToSource: "mongodb",
		Project:          "PAY",
		Labels:           []string{"payments"},
		Components:       []string{"api"},
	})

	f := toQdrantFilter("ns1", expr)
	require.Len(t, f.Must, 2)

	and := f.Must[1].GetFilter()
	require.NotNil(t, and)
	require.Len(t, and.Must, 3)
	assert.Equal(t, "mongodb", and.Must[0].GetField().GetMatch().GetKeyword())
	assert.Equal(t, filter.FieldProject, and.Must[1].GetField().Key)

	or := and.Must[2].GetFilter()
	require.NotNil(t, or)
	require.Len(t, or.Should, 2)
	assert.Equal(t, filter.FieldLabels, or.Should[0].GetField().Key)
	assert.Equal(t, []string{"payments"}, or.Should[0].GetField().GetMatch().GetKeywords().GetStrings())
	assert.Equal(t, []string{"api"}, or.Should[1].GetField().GetMatch().GetKeywords().GetStrings())
}

func TestPayloadConversion(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	payload := toPayload(map[string]any{
		"text":       "hello",
		"row_count":  5,
		"score":      0.5,
		"indexed":    true,
		"row_ids":    []any{"1", 2},
		"labels":     []string{"a", "b"},
		"indexed_at": at,
		"skip":       nil,
	})

	assert.NotContains(t, payload, "skip")
	assert.Equal(t, "2024-05-01T12:00:00Z", payload["indexed_at"].GetStringValue())

	back := fromPayload(payload)
	assert.Equal(t, "hello", back["text"])
	assert.Equal(t, int64(5), back["row_count"])
	assert.Equal(t, 0.5, back["score"])
	assert.Equal(t, true, back["indexed"])
	assert.Equal(t, []any{"1", int64(2)}, back["row_ids"])
	assert.Equal(t, []any{"a", "b"}, back["labels"])
}

func TestFromValue_IgnoresNull(t *testing.T) {
	_, ok := fromValue(&qdrant.Value{Kind: &qdrant.Value_NullValue{}})
	assert.False(t, ok)
}
