package tableindex

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ingestd/internal/sqlstore"
)

// Batch is the text and metadata of one group of rows.
type Batch struct {
	Text     string
	Metadata map[string]any
}

// RenderRow renders a row as "Table: <name>" followed by one "column: value"
// line per non-null column.
func RenderRow(row sqlstore.Row, table string) string {
	var b strings.Builder
	b.WriteString("Table: ")
	b.WriteString(table)
	for i, col := range row.Columns {
		v := row.Values[i]
		if v == nil {
			continue
		}
		b.WriteByte('\n')
		b.WriteString(col)
		b.WriteString(": ")
		b.WriteString(formatValue(v))
	}
	return b.String()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}

// rowID returns the row's id column, else its _id column, else its
// position in the table.
func rowID(row sqlstore.Row, position int) string {
	for _, col := range []string{"id", "_id"} {
		if v, ok := row.Get(col); ok && v != nil {
			return formatValue(v)
		}
	}
	return strconv.Itoa(position)
}

// BatchRows groups rows into batches of size rows. Rows inside a batch are
// separated by a blank line.
func BatchRows(rows []sqlstore.Row, table string, size int, indexedAt time.Time) []Batch {
	if size <= 0 {
		size = DefaultChunkSize
	}
	stamp := indexedAt.UTC().Format(time.RFC3339)

	batches := make([]Batch, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		group := rows[start:min(start+size, len(rows))]

		parts := make([]string, len(group))
		ids := make([]string, len(group))
		for j, row := range group {
			parts[j] = RenderRow(row, table)
			ids[j] = rowID(row, start+j)
		}
		text := strings.Join(parts, "\n\n")

		batches = append(batches, Batch{
			Text: text,
			Metadata: map[string]any{
				"source":       Source,
				"table_name":   table,
				"row_ids":      ids,
				"row_count":    len(group),
				"indexed_at":   stamp,
				"text":         text,
				"text_preview": preview(text),
			},
		})
	}
	return batches
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewChars {
		return text
	}
	return string(runes[:previewChars])
}
