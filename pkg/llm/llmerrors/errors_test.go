package llmerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		cause  error
		want   ErrorType
	}{
		{429, errors.New("slow down"), ErrorTypeRateLimit},
		{401, errors.New("nope"), ErrorTypeAuth},
		{403, errors.New("nope"), ErrorTypeAuth},
		{400, errors.New("bad"), ErrorTypeBadPrompt},
		{503, errors.New("down"), ErrorTypeTransient},
		{0, errors.New("Rate limit reached for requests"), ErrorTypeRateLimit},
		{0, errors.New("unexpected EOF"), ErrorTypeTransient},
		{0, errors.New("something odd"), ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.status, tt.want), func(t *testing.T) {
			err := FromStatus(tt.status, tt.cause)
			assert.Equal(t, tt.want, err.Type)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
}

func TestIsAndTypeOfThroughWrapping(t *testing.T) {
	base := NewError(ErrorTypeAuth, "bad key")
	wrapped := fmt.Errorf("planner: %w", base)

	assert.True(t, Is(wrapped, ErrorTypeAuth))
	assert.False(t, Is(wrapped, ErrorTypeRateLimit))
	assert.Equal(t, ErrorTypeAuth, TypeOf(wrapped))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
	assert.Equal(t, "LLM error (auth): bad key", base.Error())
}
