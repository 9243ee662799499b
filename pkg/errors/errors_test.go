package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneMatchesTemplate(t *testing.T) {
	err := Clone(ErrNotBaggable, "thesis 12 has no handle")
	assert.True(t, errors.Is(err, ErrNotBaggable))
	assert.False(t, errors.Is(err, ErrNotPublishable))
	assert.Equal(t, "thesis 12 has no handle", err.Error())
}

func TestWrapAsKeepsCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := WrapAs(cause, ErrChannel, "")
	assert.True(t, errors.Is(err, ErrChannel))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusBadGateway, FromError(fmt.Errorf("outer: %w", err)).Status)
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	err := FromError(fmt.Errorf("boom"))
	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Nil(t, FromError(nil))
}
