package ingest

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/reposource"
)

const (
	// DefaultRepoNamespace receives README chunks.
	DefaultRepoNamespace = "github-repos"

	// ReadmeSource is the source metadata value of README chunks.
	ReadmeSource = "README.md"
)

// ReadmeReader lists README.md per branch. *reposource.Reader implements it.
type ReadmeReader interface {
	ReadURL(ctx context.Context, url string) ([]reposource.Readme, error)
}

// RepoResult reports a repository ingest. A failed branch does not stop
// the others.
type RepoResult struct {
	Repository string    `json:"repository"`
	Namespace  string    `json:"namespace"`
	Branches   []*Result `json:"branches"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
}

// RepoIngestor ingests every branch's README of a repository.
type RepoIngestor struct {
	readmes   ReadmeReader
	docs      *DocumentIngestor
	namespace string
	logger    *zap.Logger
}

// NewRepoIngestor creates a RepoIngestor. An empty namespace means
// DefaultRepoNamespace.
func NewRepoIngestor(readmes ReadmeReader, docs *DocumentIngestor, namespace string, logger *zap.Logger) *RepoIngestor {
	if namespace == "" {
		namespace = DefaultRepoNamespace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RepoIngestor{readmes: readmes, docs: docs, namespace: namespace, logger: logger}
}

// IngestRepo reads url and ingests each README as a document tagged with
// its branch.
func (r *RepoIngestor) IngestRepo(ctx context.Context, url string) (*RepoResult, error) {
	readmes, err := r.readmes.ReadURL(ctx, url)
	if err != nil {
		return nil, err
	}

	name := RepoName(url)
	out := &RepoResult{Repository: name, Namespace: r.namespace}
	for _, rm := range readmes {
		doc := Document{
			Filename:    name + "/" + rm.Branch + "/" + reposource.ReadmeFile,
			ContentType: "text/markdown",
			Data:        []byte(rm.Content),
			Metadata: map[string]any{
				"source":     ReadmeSource,
				"branch":     rm.Branch,
				"commit":     rm.Commit,
				"repository": name,
			},
		}
		res, err := r.docs.Ingest(ctx, doc, r.namespace)
		out.Branches = append(out.Branches, res)
		if err != nil {
			out.Failed++
			r.logger.Warn("README ingest failed",
				zap.String("repository", name),
				zap.String("branch", rm.Branch),
				zap.Error(err),
			)
			continue
		}
		out.Succeeded++
	}

	if out.Succeeded == 0 {
		return out, fmt.Errorf("no README of %s could be ingested", name)
	}
	return out, nil
}

// RepoName returns owner/name for a clone URL or the base name of a path.
func RepoName(url string) string {
	u := strings.TrimSuffix(strings.TrimSuffix(url, "/"), ".git")
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
		if j := strings.Index(u, "/"); j >= 0 {
			return u[j+1:]
		}
		return u
	}
	if i := strings.Index(u, ":"); i >= 0 && strings.Contains(u[:i], "@") {
		return u[i+1:]
	}
	return path.Base(u)
}
