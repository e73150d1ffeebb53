package embedding

import (
	"context"
	"errors"
)

// Provider computes embeddings for a batch of texts.
//
// Implementations return one vector per text in input order. They need not
// be safe for concurrent use unless they say so; the Gateway calls a
// Provider from several goroutines when more than one batch is in flight.
type Provider interface {
	// Embed returns len(texts) vectors for model.
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)

	// Models lists the model ids the provider recognizes.
	Models() []string
}

// ProviderFunc adapts a function to Provider with a fixed model list.
type ProviderFunc struct {
	Fn        func(ctx context.Context, texts []string, model string) ([][]float32, error)
	ModelList []string
}

// Embed implements Provider.
func (p ProviderFunc) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	return p.Fn(ctx, texts, model)
}

// Models implements Provider.
func (p ProviderFunc) Models() []string { return p.ModelList }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether a provider error may succeed on a later attempt.
// Context cancellation and errors marked Permanent are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var p *permanentError
	return !errors.As(err, &p)
}
