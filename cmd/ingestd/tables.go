package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ingestd/internal/tableindex"
)

var errNoSQL = errors.New("relational store not configured (set sql.dsn)")

var (
	tableNamespace string
	tableChunkSize int
	tableLimit     int
	tableExclude   []string
)

func init() {
	indexTablesCmd.Flags().StringVarP(&tableNamespace, "namespace", "n", "", "target namespace (default ingest.table_namespace)")
	indexTablesCmd.Flags().IntVar(&tableChunkSize, "rows-per-chunk", 0, "rows per vector (default ingest.rows_per_chunk)")
	indexTablesCmd.Flags().IntVar(&tableLimit, "limit", 0, "maximum rows read per table (0 reads all)")
	indexTablesCmd.Flags().StringSliceVar(&tableExclude, "exclude", nil, "tables to skip (adds to ingest.exclude_tables)")
	rootCmd.AddCommand(indexTablesCmd)
}

var indexTablesCmd = &cobra.Command{
	Use:   "index-tables [table]",
	Short: "Index relational tables into the vector index",
	Long: `Read rows from the configured database, group them into chunks, embed
and upsert them. Without an argument every table is indexed; a failing
table is reported and the others continue.

Examples:
  # Index every table
  ingestd index-tables

  # Index one table, 10 rows per vector
  ingestd index-tables orders --rows-per-chunk 10`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			return runIndexTables(ctx, cmd, a, args)
		})
	},
}

func runIndexTables(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
	if a.indexer == nil {
		return errNoSQL
	}

	namespace := tableNamespace
	if namespace == "" {
		namespace = a.cfg.Ingest.TableNamespace
	}
	chunkSize := tableChunkSize
	if chunkSize <= 0 {
		chunkSize = a.cfg.Ingest.RowsPerChunk
	}

	if len(args) == 1 {
		res := a.indexer.IndexTable(ctx, args[0], tableindex.Options{
			Namespace: namespace,
			ChunkSize: chunkSize,
			Limit:     tableLimit,
		})
		if jsonOutput {
			if err := printJSON(cmd, res); err != nil {
				return err
			}
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), renderTableResults([]tableindex.TableResult{res}))
		}
		if res.Status == tableindex.StatusError {
			return fmt.Errorf("indexing %s failed: %s", res.TableName, res.Error)
		}
		return nil
	}

	exclude := append(append([]string{}, a.cfg.Ingest.ExcludeTables...), tableExclude...)
	res, err := a.indexer.IndexAllTables(ctx, tableindex.AllOptions{
		Namespace:     namespace,
		ChunkSize:     chunkSize,
		LimitPerTable: tableLimit,
		ExcludeTables: exclude,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTableResults(res.TableResults))
	fmt.Fprintln(cmd.OutOrStdout(), renderTableSummary(res))
	return nil
}
