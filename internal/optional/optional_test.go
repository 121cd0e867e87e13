package optional

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSome(t *testing.T) {
	r := Some("text")
	v, ok := r.Get()
	assert.True(t, ok)
	assert.Equal(t, "text", v)
	assert.NoError(t, r.Reason())
	assert.Equal(t, "text", r.OrElse("fallback"))
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("timeout")
	r := Unavailable[string](cause)
	assert.False(t, r.Ok())
	assert.ErrorIs(t, r.Reason(), cause)
	assert.Equal(t, "fallback", r.OrElse("fallback"))

	assert.ErrorIs(t, Unavailable[int](nil).Reason(), ErrUnavailable)
}
