package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindConfigMissing     Kind = "ConfigMissing"
	KindEmbeddingFailure  Kind = "EmbeddingFailure"
	KindRetrievalFailure  Kind = "RetrievalFailure"
	KindGenerationFailure Kind = "GenerationFailure"
)

// StageError is the failure result of one pipeline stage.
type StageError struct {
	Kind Kind
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageError(kind Kind, err error) *StageError {
	return &StageError{Kind: kind, Err: err}
}

// KindOf returns the kind of the first StageError in err's chain.
func KindOf(err error) (Kind, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// Reporter is the operator-visible channel for non-fatal failures.
type Reporter interface {
	Report(ctx context.Context, err *StageError)
}

// LogReporter writes failures to the request logger if one is attached to
// ctx, otherwise to the global logger.
type LogReporter struct{}

func (LogReporter) Report(ctx context.Context, err *StageError) {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		l = &log.Logger
	}
	l.Error().Str("kind", string(err.Kind)).Err(err.Err).Msg("Pipeline stage failed")
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, err *StageError)

func (f ReporterFunc) Report(ctx context.Context, err *StageError) { f(ctx, err) }
