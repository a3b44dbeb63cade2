package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIsCanceledSeesWrappedErrors(t *testing.T) {
	assert.True(t, errorsIsCanceled(context.Canceled))
	assert.True(t, errorsIsCanceled(fmt.Errorf("run loop: %w", context.Canceled)))
	assert.False(t, errorsIsCanceled(context.DeadlineExceeded))
	assert.False(t, errorsIsCanceled(errors.New("unrelated")))
	assert.False(t, errorsIsCanceled(nil))
}
