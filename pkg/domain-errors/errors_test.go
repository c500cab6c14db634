package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapAndHasCode(t *testing.T) {
	t.Run("wrap nil returns nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
	})

	t.Run("finds inner code through fmt wrapping", func(t *testing.T) {
		inner := New(CodeInvalidConfiguration, "min_k must be positive")
		outer := Wrap(fmt.Errorf("load: %w", inner), CodeInternal, "startup failed")

		assert.True(t, HasCode(outer, CodeInternal))
		assert.True(t, HasCode(outer, CodeInvalidConfiguration))
		assert.False(t, HasCode(outer, CodeNotFound))
		assert.Equal(t, CodeInternal, CodeOf(outer))
	})

	t.Run("preserves cause for errors.Is", func(t *testing.T) {
		cause := errors.New("boom")
		err := Wrap(cause, CodeUnavailable, "redis down")
		require.ErrorIs(t, err, cause)
		assert.Equal(t, "redis down: boom", err.Error())
	})

	t.Run("plain errors default to internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, CodeOf(errors.New("x")))
		assert.False(t, HasCode(errors.New("x"), CodeInternal))
	})
}
