package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassificationThroughWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("pulling escrow: %w", NewUnavailableError(cause))
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsRejected(err))
	assert.ErrorIs(t, err, cause)

	err = fmt.Errorf("paying out: %w", NewRejectedError(errors.New("insufficient balance")))
	assert.True(t, IsRejected(err))
	assert.False(t, IsUnavailable(err))

	assert.False(t, IsUnavailable(errors.New("plain")))
	assert.False(t, IsRejected(nil))
}
