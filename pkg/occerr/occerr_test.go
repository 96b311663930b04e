package occerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "without cause",
			err:      New(CodeNotFound, "group 0x7 missing"),
			expected: "[NOT_FOUND] group 0x7 missing",
		},
		{
			name:     "with cause",
			err:      Wrap(CodeStoreIO, "load failed", errors.New("disk full")),
			expected: "[STORE_IO] load failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(CodeCorruptInput, "bad record", cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestError_Is(t *testing.T) {
	a := New(CodeOutOfBudget, "a")
	b := New(CodeOutOfBudget, "b")
	c := New(CodeNoSpace, "c")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestIsAndCodeOf(t *testing.T) {
	err := Newf(CodeQuotaTooSmall, "quota %d below one record", 4)
	assert.True(t, Is(err, CodeQuotaTooSmall))
	assert.False(t, Is(err, CodeNoSpace))
	assert.Equal(t, CodeQuotaTooSmall, CodeOf(err))

	plain := errors.New("plain")
	assert.Equal(t, Code(""), CodeOf(plain))
}
