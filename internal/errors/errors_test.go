package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func allSentinels() []error {
	return []error{
		ErrNotFound,
		ErrInvalidInput,
		ErrAlreadyLinked,
		ErrNotLinked,
		ErrProviderUnavailable,
		ErrAlreadyResolved,
		ErrInvalidResolution,
		ErrMergeContent,
		ErrInvalidRule,
		ErrInactiveRule,
	}
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := allSentinels()
	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinel errors should be distinct: %q vs %q", sentinels[i], sentinels[j])
		}
	}
}

func TestSentinelErrors_SurviveWrapping(t *testing.T) {
	for _, sentinel := range allSentinels() {
		wrapped := fmt.Errorf("resolving conflict c-1: %w", sentinel)
		assert.True(t, errors.Is(wrapped, sentinel), "wrapped %q should match", sentinel)
	}
}

func TestSentinelErrors_ExpectedMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNotFound, "not found"},
		{ErrAlreadyResolved, "conflict already resolved"},
		{ErrNotLinked, "document not linked to a cloud provider"},
		{ErrInvalidRule, "invalid coordination rule"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}
