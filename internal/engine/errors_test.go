package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")))
	assert.True(t, IsRetryable(errors.New("ERROR: canceling statement due to lock timeout")))
	assert.True(t, IsRetryable(fmt.Errorf("failed to find wallet: %w", errors.New("could not obtain lock on row"))))
	assert.False(t, IsRetryable(ErrInsufficientFunds))
	assert.False(t, IsRetryable(ErrInvalidOrder))
	assert.False(t, IsRetryable(fmt.Errorf("%w: release exceeds locked", ErrInconsistentState)))
}
