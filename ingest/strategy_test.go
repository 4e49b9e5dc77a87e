package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingStrategy(name string, err error) Strategy {
	return Strategy{
		Name: name,
		Attempt: func(context.Context) (*Result, error) {
			return nil, err
		},
	}
}

func succeedingStrategy(name, transcript string) Strategy {
	return Strategy{
		Name: name,
		Attempt: func(context.Context) (*Result, error) {
			return &Result{Transcript: transcript, Quality: "test"}, nil
		},
	}
}

func TestRunChainStopsAtFirstSuccess(t *testing.T) {
	invoked := false
	chain := []Strategy{
		succeedingStrategy("first", "winning transcript"),
		{
			Name: "second",
			Attempt: func(context.Context) (*Result, error) {
				invoked = true
				return nil, errors.New("should not run")
			},
		},
	}

	result, failures, err := runChain(context.Background(), chain)
	require.NoError(t, err)
	assert.Equal(t, "winning transcript", result.Transcript)
	assert.Empty(t, failures)
	assert.False(t, invoked, "later stages must not run after a success")
}

func TestRunChainRecordsPriorFailures(t *testing.T) {
	chain := []Strategy{
		failingStrategy("captions", errors.New("captions disabled")),
		failingStrategy("audio-primary", errors.New("no formats")),
		succeedingStrategy("audio-permissive", "stage three transcript"),
	}

	result, failures, err := runChain(context.Background(), chain)
	require.NoError(t, err)
	assert.Equal(t, "stage three transcript", result.Transcript)

	require.Len(t, failures, 2)
	assert.Equal(t, "captions", failures[0].Stage)
	assert.Equal(t, "audio-primary", failures[1].Stage)
}

func TestRunChainAggregatesExhaustion(t *testing.T) {
	chain := []Strategy{
		failingStrategy("captions", errors.New("disabled")),
		failingStrategy("audio-primary", errors.New("blocked")),
		failingStrategy("audio-permissive", errors.New("throttled")),
	}

	result, failures, err := runChain(context.Background(), chain)
	assert.Nil(t, result)
	assert.Len(t, failures, 3)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Stages, 3)
	assert.Contains(t, exhausted.Error(), "captions: disabled")
	assert.Contains(t, exhausted.Error(), "audio-permissive: throttled")
}

func TestRunChainTreatsEmptyTranscriptAsFailure(t *testing.T) {
	chain := []Strategy{
		succeedingStrategy("empty", "   "),
		succeedingStrategy("real", "actual text"),
	}

	result, failures, err := runChain(context.Background(), chain)
	require.NoError(t, err)
	assert.Equal(t, "actual text", result.Transcript)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0].Err, errNoTranscript)
}

func TestRunChainAbortsOnTranscriptionFailure(t *testing.T) {
	invoked := false
	chain := []Strategy{
		failingStrategy("audio-primary", &TranscriptionError{Err: errors.New("decode error")}),
		{
			Name: "audio-permissive",
			Attempt: func(context.Context) (*Result, error) {
				invoked = true
				return &Result{Transcript: "unreachable"}, nil
			},
		},
	}

	result, _, err := runChain(context.Background(), chain)
	assert.Nil(t, result)
	var fatal *TranscriptionError
	assert.ErrorAs(t, err, &fatal)
	assert.False(t, invoked, "transcription failures must not advance the chain")
}

func TestRunChainHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, _, err := runChain(ctx, []Strategy{succeedingStrategy("never", "text")})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
}
