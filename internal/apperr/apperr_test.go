package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWalksWrappedChain(t *testing.T) {
	base := New(KindTransientIO, "socket closed")
	wrapped := fmt.Errorf("fetch products: %w", base)

	assert.Equal(t, KindTransientIO, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindTransientIO))
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestOnlyTransientIOIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(KindTransientIO, "down")))

	for _, kind := range []Kind{
		KindConfig, KindSourceSchema, KindAuth, KindRateLimit,
		KindNotFound, KindConflict, KindForbidden, KindInternal,
	} {
		assert.False(t, IsRetryable(New(kind, "x")), kind.String())
	}
	assert.False(t, IsRetryable(nil))
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindTransientIO, "redis", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient_io")
	assert.Contains(t, err.Error(), "connection refused")
}
