package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsWrap(t *testing.T) {
	err := NotFound("conversation %s", "abc")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "not found: conversation abc", err.Error())

	failed := ActionFailed(InvalidArgument("customer %s not found", "a@x.com"))
	assert.ErrorIs(t, failed, ErrActionExecutionFailed)
	assert.ErrorIs(t, failed, ErrInvalidArgument)
}

func TestRecoverable(t *testing.T) {
	assert.True(t, Recoverable(InvalidArgument("bad")))
	assert.True(t, Recoverable(ActionFailed(errors.New("boom"))))
	assert.False(t, Recoverable(errors.New("connection reset")))
	assert.False(t, Recoverable(Conflict("terminal")))
}
