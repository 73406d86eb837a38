package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveTaskID(t *testing.T) {
	id1 := DeriveTaskID(KindSummarize, []byte(`{"key":"INC-1","summary":"db down"}`))
	require.Len(t, id1, 32)

	t.Run("deterministic", func(t *testing.T) {
		id2 := DeriveTaskID(KindSummarize, []byte(`{"key":"INC-1","summary":"db down"}`))
		assert.Equal(t, id1, id2)
	})

	t.Run("insignificant whitespace ignored", func(t *testing.T) {
		id2 := DeriveTaskID(KindSummarize, []byte("{\n  \"key\": \"INC-1\",\n  \"summary\": \"db down\"\n}"))
		assert.Equal(t, id1, id2)
	})

	t.Run("kind is part of the identity", func(t *testing.T) {
		id2 := DeriveTaskID(KindTriage, []byte(`{"key":"INC-1","summary":"db down"}`))
		assert.NotEqual(t, id1, id2)
	})

	t.Run("different payloads differ", func(t *testing.T) {
		id2 := DeriveTaskID(KindSummarize, []byte(`{"key":"INC-2","summary":"db down"}`))
		assert.NotEqual(t, id1, id2)
	})
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		input   string
		want    TaskKind
		wantErr bool
	}{
		{input: "summarize", want: KindSummarize},
		{input: "triage", want: KindTriage},
		{input: "rca", want: KindRCA},
		{input: "chat", want: KindChat},
		{input: "", wantErr: true},
		{input: "Summarize", wantErr: true},
		{input: "review", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("input "+tt.input, func(t *testing.T) {
			got, err := ParseKind(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTaskState_Terminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
}

func TestClassifiedError_Retryable(t *testing.T) {
	for _, kind := range []ErrorKind{ErrorTimeout, ErrorRateLimited, ErrorUnavailable} {
		err := &ClassifiedError{Kind: kind, Message: "boom"}
		assert.True(t, err.Retryable(), "kind %s should be retryable", kind)
	}
	err := &ClassifiedError{Kind: ErrorInvalid, Message: "bad input"}
	assert.False(t, err.Retryable())
}
