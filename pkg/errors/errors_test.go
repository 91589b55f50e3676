package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMessage(t *testing.T) {
	err := New(ErrCodeTransportNotFound, "transport t1 not found")
	assert.Equal(t, "TRANSPORT_NOT_FOUND: transport t1 not found", err.Error())

	wrapped := Wrap(fmt.Errorf("dial refused"), ErrCodeEngineFailure, "router allocation failed")
	assert.Contains(t, wrapped.Error(), "caused by: dial refused")
}

func TestCodeOfUnwrapsChain(t *testing.T) {
	base := New(ErrCodeCannotConsume, "incompatible capabilities")
	wrapped := fmt.Errorf("consume failed: %w", base)

	assert.Equal(t, ErrCodeCannotConsume, CodeOf(wrapped))
	assert.True(t, HasCode(wrapped, ErrCodeCannotConsume))
	assert.False(t, HasCode(wrapped, ErrCodeProducerNotFound))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, ErrCodeEngineFailure, CodeOf(fmt.Errorf("boom")))
}
