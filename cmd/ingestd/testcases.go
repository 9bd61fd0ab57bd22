package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ingestd/internal/testcases"
)

var errNoTestCases = errors.New("test case generation needs llm.api_key and a work-item source (jira or github)")

var (
	casesLimit      int
	casesTopK       int
	casesFixVersion string
	casesOutputDir  string
)

func init() {
	generateTestCasesCmd.Flags().IntVarP(&casesLimit, "limit", "l", 0, "maximum stories to process (default testcases.limit)")
	generateTestCasesCmd.Flags().IntVarP(&casesTopK, "top-k", "k", 0, "chunks retrieved per story (default retrieval.top_k)")
	generateTestCasesCmd.Flags().StringVar(&casesFixVersion, "fix-version", "", "fix version stamped on every case (default testcases.fix_version)")
	generateTestCasesCmd.Flags().StringVarP(&casesOutputDir, "output-dir", "o", "", "directory receiving the CSV files (default testcases.output_dir)")
	rootCmd.AddCommand(generateTestCasesCmd)
}

var generateTestCasesCmd = &cobra.Command{
	Use:   "generate-testcases <label>",
	Short: "Generate test cases for the work items matching a label",
	Long: `For each work item whose labels fuzzy-match the label, retrieve related
chunks, ask the language model for a grounded structured context and then
for test cases derived from it. Each story's cases are written to
<output-dir>/<key>_testcases.csv. A failing story is reported and the
others continue.

Examples:
  ingestd generate-testcases payments
  ingestd generate-testcases payments --limit 5 --fix-version Sprint_2026_01 -o ./cases`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			return runGenerateTestCases(ctx, cmd, a, args[0])
		})
	},
}

func runGenerateTestCases(ctx context.Context, cmd *cobra.Command, a *app, label string) error {
	if a.testcases == nil {
		return errNoTestCases
	}
	gen := a.testcases
	if casesOutputDir != "" {
		gen = testcases.New(a.retriever, a.llm, testcases.Config{
			OutputDir:   casesOutputDir,
			FixVersion:  a.cfg.TestCases.FixVersion,
			Limit:       a.cfg.TestCases.Limit,
			TopK:        a.cfg.Retrieval.TopK,
			Concurrency: a.cfg.TestCases.Concurrency,
		}, a.logger)
	}

	res, err := gen.Generate(ctx, testcases.Request{
		Label:      label,
		Limit:      casesLimit,
		TopK:       casesTopK,
		FixVersion: casesFixVersion,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		if err := printJSON(cmd, res); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), renderTestCases(res))
	}
	if !res.Success {
		return fmt.Errorf("test case generation failed for some stories of %q", label)
	}
	return nil
}
