package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ingestd/internal/filter"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "ingestd by Fyrsmith Labs")
	assert.Contains(t, out.String(), "Version:    "+version)
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{
		"serve", "mcp", "ingest", "ingest-repo", "watch", "index-tables",
		"query", "answer", "workitems", "generate-testcases", "delete-namespace", "version",
	}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestIngestFlags_Metadata(t *testing.T) {
	assert.Empty(t, (&ingestFlags{}).metadata())

	f := ingestFlags{project: "LEDGER", labels: []string{"billing"}, components: []string{"api"}}
	assert.Equal(t, map[string]any{
		"project":    "LEDGER",
		"labels":     []string{"billing"},
		"components": []string{"api"},
	}, f.metadata())
}

func TestQueryFlags_Request(t *testing.T) {
	f := queryFlags{
		topK:       3,
		namespaces: []string{"docs"},
		project:    "LEDGER",
		labels:     []string{"billing"},
		source:     "README.md",
		strategy:   string(filter.ProjectAndLabelsOnly),
	}
	req := f.request("invoice rounding")
	assert.Equal(t, "invoice rounding", req.Text)
	assert.Equal(t, 3, req.TopK)
	assert.Equal(t, []string{"docs"}, req.Namespaces)
	assert.False(t, req.AllNamespaces)
	assert.Equal(t, "README.md", req.RestrictToSource)
	assert.Equal(t, filter.ProjectAndLabelsOnly, req.Strategy)
}

func TestServicesWithoutSQL(t *testing.T) {
	a := &app{}

	hs := a.httpServices()
	assert.Nil(t, hs.Tables, "must be a nil interface, not a typed nil")
	assert.Nil(t, hs.Indexer)

	ms := a.mcpServices()
	assert.Nil(t, ms.SQL)
	assert.Nil(t, ms.Indexer)
}
