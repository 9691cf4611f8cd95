package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches outermost code", func(t *testing.T) {
		err := New(CodeExpired, "link expired")
		assert.True(t, HasCode(err, CodeExpired))
		assert.False(t, HasCode(err, CodeInvalidToken))
	})

	t.Run("survives fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("validate: %w", New(CodeAlreadyFinalized, "done"))
		assert.True(t, HasCode(err, CodeAlreadyFinalized))
		assert.Equal(t, "done", MessageOf(err))
	})

	t.Run("uncoded errors are internal", func(t *testing.T) {
		err := errors.New("boom")
		assert.False(t, HasCode(err, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(err))
	})

	t.Run("wrap keeps cause reachable", func(t *testing.T) {
		cause := errors.New("db down")
		err := Wrap(cause, CodeInternal, "failed to load token")
		assert.True(t, Is(err, cause))
		assert.Nil(t, Wrap(nil, CodeInternal, "ignored"))
	})
}
