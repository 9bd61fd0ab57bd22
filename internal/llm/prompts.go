package llm

import (
	"context"
	"fmt"
	"strings"
)

const (
	answerSystem = "You are a helpful assistant that answers questions based on the provided context. " +
		"If the context doesn't contain enough information, say so."

	sqlSystem = "You are a PostgreSQL expert that generates safe SELECT queries."

	// NoQuery is the model's reply when a question does not concern the
	// available tables.
	NoQuery = "NO_QUERY"

	answerMaxTokens = 500
	sqlMaxTokens    = 200
)

// Answer asks the model to answer question from contexts. Contexts are
// joined in the order given.
func Answer(ctx context.Context, c Completer, question string, contexts []string) (string, error) {
	user := fmt.Sprintf("Context:\n%s\n\nQuestion: %s\n\nProvide a clear, concise answer based on the context above.",
		strings.Join(contexts, "\n\n"), question)
	return c.Complete(ctx, answerSystem, user, answerMaxTokens)
}

// GenerateSQL asks the model for a SELECT answering question over tables.
// It returns "" when the model replies NoQuery.
func GenerateSQL(ctx context.Context, c Completer, question string, tables []string) (string, error) {
	user := fmt.Sprintf(`Generate a SELECT query based on the user's question.

Available tables: %s

User question: %s

Rules:
1. Only generate SELECT queries
2. Use LIMIT 10 for safety
3. If the question doesn't relate to the available tables, return "%s"
4. Return ONLY the SQL query, no explanation

SQL Query:`, strings.Join(tables, ", "), question, NoQuery)

	out, err := c.Complete(ctx, sqlSystem, user, sqlMaxTokens)
	if err != nil {
		return "", err
	}
	sql := StripCodeFence(out)
	if sql == NoQuery {
		return "", nil
	}
	return sql, nil
}

// StripCodeFence removes a surrounding markdown code fence and its
// language tag.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[:i]
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], " \t") {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "sql")
	}
	return strings.TrimSpace(s)
}
