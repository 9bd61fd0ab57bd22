package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ingestd/internal/filter"
	"github.com/fyrsmithlabs/ingestd/internal/retrieval"
)

// queryFlags are shared by query and answer.
type queryFlags struct {
	topK       int
	namespaces []string
	all        bool
	project    string
	labels     []string
	components []string
	source     string
	strategy   string
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.topK, "top-k", "k", 0, "number of chunks (default retrieval.top_k)")
	cmd.Flags().StringSliceVarP(&f.namespaces, "namespace", "n", nil, "namespaces to query (default retrieval.namespaces)")
	cmd.Flags().BoolVar(&f.all, "all", false, "query every namespace of the index")
	cmd.Flags().StringVar(&f.project, "project", "", "restrict to a project")
	cmd.Flags().StringSliceVar(&f.labels, "labels", nil, "work-item labels to filter on")
	cmd.Flags().StringSliceVar(&f.components, "components", nil, "work-item components to filter on")
	cmd.Flags().StringVar(&f.source, "source", "", "restrict to chunks from this source")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", fmt.Sprintf("filter strategy (%s, %s, %s)",
		filter.ProjectAndAnyLabelOrComponent, filter.ProjectAndLabelsOnly, filter.LabelsOrComponentsOnly))
}

func (f *queryFlags) request(text string) retrieval.Request {
	return retrieval.Request{
		Text:             text,
		TopK:             f.topK,
		Namespaces:       f.namespaces,
		AllNamespaces:    f.all,
		Project:          f.project,
		Labels:           f.labels,
		Components:       f.components,
		RestrictToSource: f.source,
		Strategy:         filter.Strategy(f.strategy),
	}
}

var (
	queryOpts     queryFlags
	answerOpts    queryFlags
	answerWithSQL bool
	labelTopK     int
)

func init() {
	queryOpts.register(queryCmd)
	answerOpts.register(answerCmd)
	answerCmd.Flags().BoolVar(&answerWithSQL, "sql", false, "add SQL context from the relational store")
	workItemsCmd.Flags().IntVarP(&labelTopK, "top-k", "k", 0, "chunks per work item (default retrieval.top_k)")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(workItemsCmd)
	rootCmd.AddCommand(deleteNamespaceCmd)
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Semantic search across namespaces",
	Long: `Embed the text and scatter-gather it across namespaces. Chunks are
ranked by score; namespaces that fail are reported and skipped.

Examples:
  ingestd query "refund policy for annual plans"
  ingestd query --project LEDGER --labels billing "invoice rounding"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			res, err := a.retriever.Search(ctx, queryOpts.request(args[0]))
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderChunks(res.Chunks))
			if len(res.Failures) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), renderFailures(res.Failures))
			}
			return nil
		})
	},
}

var answerCmd = &cobra.Command{
	Use:   "answer <question>",
	Short: "Answer a question from retrieved chunks",
	Long: `Retrieve candidate chunks, keep the best and ask the language model to
answer from them. Requires llm.api_key.

Examples:
  ingestd answer "Which service owns invoice rounding?"
  ingestd answer --sql "How many orders shipped last week?"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			res, err := a.retriever.Answer(ctx, args[0], retrieval.AnswerOptions{
				Request:    answerOpts.request(args[0]),
				IncludeSQL: answerWithSQL,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderAnswer(res))
			return nil
		})
	},
}

var workItemsCmd = &cobra.Command{
	Use:   "workitems <label>",
	Short: "Retrieve context for the work items matching a label",
	Long: `Fetch work items from Jira or GitHub, keep those whose labels fuzzy-match
the given label, and retrieve the chunks related to each.

Examples:
  ingestd workitems billing`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			res, err := a.retriever.ContextForLabel(ctx, args[0], labelTopK)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderLabelContext(res))
			return nil
		})
	},
}

var deleteNamespaceCmd = &cobra.Command{
	Use:   "delete-namespace <namespace>",
	Short: "Delete every vector in a namespace",
	Long: `Delete a namespace from the configured index. Other namespaces are
untouched. Deleting a namespace that does not exist is not an error.

Examples:
  ingestd delete-namespace drafts`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			if err := a.gateway.DeleteNamespace(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), styles.Success.Render(
				fmt.Sprintf("deleted namespace %q from index %q", args[0], a.gateway.Index())))
			return nil
		})
	},
}
