package domain

import "context"

// Generator is the shared text generation contract. Untrusted and remote: it
// may fail, time out, or return malformed output, and callers must cope.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
