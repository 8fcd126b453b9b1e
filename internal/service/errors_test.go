package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))

	wrapped := fmt.Errorf("purchase: %w", ErrOwnItem)
	assert.Same(t, ErrOwnItem, AsError(wrapped))

	plain := errors.New("disk full")
	svcErr := AsError(plain)
	assert.Equal(t, CodeInternal, svcErr.Code)
	assert.Equal(t, "disk full", svcErr.Message)
	assert.ErrorIs(t, svcErr, plain)
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(ErrInsufficientCoins))
	assert.True(t, IsClientError(fmt.Errorf("wrapped: %w", ErrPromptEmpty)))
	assert.False(t, IsClientError(Internal("Purchase failed: ", errors.New("boom"))))
	assert.False(t, IsClientError(errors.New("boom")))
	assert.False(t, IsClientError(nil))
}

func TestInternalMessage(t *testing.T) {
	err := Internal("failed to generate image: ", errors.New("timeout"))
	assert.Equal(t, "failed to generate image: timeout", err.Message)
	assert.Equal(t, "internal: failed to generate image: timeout: timeout", err.Error())
}
