package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedJSON is returned when a JSON-mode reply does not decode into
// the requested shape.
var ErrMalformedJSON = errors.New("llm returned malformed JSON")

// JSONCompleter produces a completion constrained to a JSON object.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// DecodeJSON asks c for a JSON object and decodes it into out. A code fence
// around the object is tolerated.
func DecodeJSON(ctx context.Context, c JSONCompleter, system, user string, maxTokens int, out any) error {
	raw, err := c.CompleteJSON(ctx, system, user, maxTokens)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(StripCodeFence(raw)), out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedJSON, err)
	}
	return nil
}
