package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/docparse"
	"github.com/fyrsmithlabs/ingestd/internal/ignore"
	"github.com/fyrsmithlabs/ingestd/internal/ingest"
	"github.com/fyrsmithlabs/ingestd/internal/watch"
)

// ingestFlags are shared by ingest and watch.
type ingestFlags struct {
	namespace  string
	project    string
	labels     []string
	components []string
}

func (f *ingestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.namespace, "namespace", "n", "", "target namespace (default ingest.namespace)")
	cmd.Flags().StringVar(&f.project, "project", "", "project metadata for filtered retrieval")
	cmd.Flags().StringSliceVar(&f.labels, "labels", nil, "label metadata (comma separated)")
	cmd.Flags().StringSliceVar(&f.components, "components", nil, "component metadata (comma separated)")
}

// metadata returns the caller metadata stored with every chunk.
func (f *ingestFlags) metadata() map[string]any {
	md := map[string]any{}
	if f.project != "" {
		md["project"] = f.project
	}
	if len(f.labels) > 0 {
		md["labels"] = f.labels
	}
	if len(f.components) > 0 {
		md["components"] = f.components
	}
	return md
}

var (
	ingestOpts ingestFlags
	watchOpts  ingestFlags
)

func init() {
	ingestOpts.register(ingestCmd)
	watchOpts.register(watchCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(ingestRepoCmd)
	rootCmd.AddCommand(watchCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest documents into the vector index",
	Long: fmt.Sprintf(`Store, parse, chunk, embed and index documents.

Supported types: %s. Each file is ingested independently; a failure is
reported and the remaining files continue.

Examples:
  # Ingest a file into the default namespace
  ingestd ingest design.pdf

  # Ingest with work-item metadata
  ingestd ingest --project LEDGER --labels billing,api notes/*.md`, docparse.SupportedList()),
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			return runIngest(ctx, cmd, a, args)
		})
	},
}

func runIngest(ctx context.Context, cmd *cobra.Command, a *app, paths []string) error {
	results := make([]*ingest.Result, 0, len(paths))
	failed := 0
	for _, path := range paths {
		res, err := a.ingestFile(ctx, path, ingestOpts.metadata(), ingestOpts.namespace)
		if err != nil {
			failed++
			if res == nil {
				res = &ingest.Result{Filename: filepath.Base(path), Status: ingest.StatusError, Error: err.Error()}
			}
		}
		results = append(results, res)
	}

	if jsonOutput {
		if err := printJSON(cmd, results); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), renderIngestResults(results))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(paths))
	}
	return nil
}

// ingestFile reads path and runs it through the document ingestor.
func (a *app) ingestFile(ctx context.Context, path string, metadata map[string]any, namespace string) (*ingest.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	name := filepath.Base(path)
	return a.documents.Ingest(ctx, ingest.Document{
		Filename:    name,
		ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(name))),
		Data:        data,
		Metadata:    metadata,
	}, namespace)
}

var ingestRepoCmd = &cobra.Command{
	Use:   "ingest-repo <url>",
	Short: "Ingest the README of every branch of a git repository",
	Long: `Clone a repository into memory and ingest README.md from every branch,
tagged with source=README.md and the branch name.

Examples:
  ingestd ingest-repo https://github.com/acme/ledger.git`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			res, err := a.repos.IngestRepo(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRepoResult(res))
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d branches failed", res.Failed, len(res.Branches))
			}
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Ingest files dropped into a directory",
	Long: `Watch a directory and ingest supported files when they are created or
written. Runs until interrupted. Base-name patterns listed in a
.ingestignore file inside the directory are skipped.

Examples:
  ingestd watch --namespace drafts ~/dropbox`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			return a.watch(ctx, args[0], &watchOpts)
		})
	},
}

// watch ingests files dropped into dir until ctx is done. Nil flags use
// the configured defaults.
func (a *app) watch(ctx context.Context, dir string, flags *ingestFlags) error {
	if flags == nil {
		flags = &ingestFlags{}
	}
	handler := func(ctx context.Context, path string) error {
		res, err := a.ingestFile(ctx, path, flags.metadata(), flags.namespace)
		if err != nil {
			return err
		}
		a.logger.Info("ingested dropped file",
			zap.String("path", path),
			zap.String("document_id", res.DocumentID),
			zap.Int("chunks", res.Chunks),
		)
		return nil
	}

	ignored, err := ignore.LoadDir(dir)
	if err != nil {
		return err
	}
	w, err := watch.New(dir, handler,
		watch.WithDebounce(a.cfg.Ingest.WatchDebounce.Duration()),
		watch.WithFilter(ignored.Filter(docparse.Supported)),
		watch.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}
	a.logger.Info("watching directory", zap.String("dir", dir), zap.Strings("ignore", ignored.Patterns()))
	return w.Run(ctx)
}
