package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Result is a successful acquisition: the transcript plus the title the
// winning strategy discovered and a tag describing how the text was produced.
// Summary is filled in after the chain completes, never by a strategy.
type Result struct {
	Transcript string
	Title      string
	Quality    string
	Summary    string
}

// Strategy is one way of turning a content reference into a transcript.
// Strategies are tried in order; a nil error with a non-empty transcript
// stops the chain.
type Strategy struct {
	Name    string
	Attempt func(ctx context.Context) (*Result, error)
}

// StageError records why one strategy failed.
type StageError struct {
	Stage string `json:"stage"`
	Err   error  `json:"-"`
}

func (e StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e StageError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Stage string `json:"stage"`
		Error string `json:"error"`
	}{Stage: e.Stage, Error: e.Err.Error()})
}

// ExhaustedError aggregates every stage failure after the whole chain failed.
// The per-stage errors are kept for operator diagnosis.
type ExhaustedError struct {
	Stages []StageError
}

func (e *ExhaustedError) Error() string {
	if e == nil || len(e.Stages) == 0 {
		return "ingest: no acquisition strategies available"
	}
	parts := make([]string, 0, len(e.Stages))
	for _, stage := range e.Stages {
		parts = append(parts, stage.Error())
	}
	return "ingest: all acquisition strategies failed: " + strings.Join(parts, "; ")
}

// TranscriptionError marks a speech-to-text failure on the final stage.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("ingest: transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

var errNoTranscript = errors.New("ingest: strategy produced no transcript")

// runChain tries each strategy in order and stops at the first success. It
// returns the failures accumulated before the winning stage so callers can
// report which strategies were skipped over; when every stage fails the
// failures are wrapped in an ExhaustedError.
func runChain(ctx context.Context, strategies []Strategy) (*Result, []StageError, error) {
	var failures []StageError

	for _, strategy := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, failures, err
		}

		result, err := strategy.Attempt(ctx)
		if err == nil && (result == nil || strings.TrimSpace(result.Transcript) == "") {
			err = errNoTranscript
		}
		if err != nil {
			// A speech-to-text failure means audio was already acquired;
			// retrying looser download configs cannot fix it.
			var fatal *TranscriptionError
			if errors.As(err, &fatal) {
				return nil, failures, err
			}
			failures = append(failures, StageError{Stage: strategy.Name, Err: err})
			continue
		}
		return result, failures, nil
	}

	return nil, failures, &ExhaustedError{Stages: failures}
}
