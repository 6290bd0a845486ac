package util

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapError(t *testing.T) {
	base := errors.New("boom")
	wrapped := WrapError("open device", base)
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, "failed to open device: boom", wrapped.Error())

	assert.NoError(t, WrapError("anything", nil))
}
