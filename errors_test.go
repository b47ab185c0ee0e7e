package strata

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreErrorFormatting(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name string
		err  *StoreError
		want string
	}{
		{"plain", NewStoreError(ErrorTypeExecution, "X", "boom"), "[execution:X] boom"},
		{"object with cause", NewProbeError("JdsStoreText", cause), "[probe:PROBE_FAILED] object JdsStoreText: existence probe failed: connection reset"},
		{"entity guid", NewLoadRowError("g1", 10, cause), "[load:ROW_UNDECODABLE] entity g1: attribute row skipped: connection reset"},
		{"field", NewValidationError(10, "bad"), "[validation:TYPE_MISMATCH] field 10: bad"},
		{"entity type", NewUnregisteredEntityError(3), "[configuration:UNREGISTERED_ENTITY] entity type 3: entity type is not registered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestStoreErrorUnwrap(t *testing.T) {
	cause := errors.New("deadlock")
	err := fmt.Errorf("save chunk 2: %w", NewTransactionError(ErrCodeSaveFailed, "save failed", cause))

	assert.ErrorIs(t, err, cause)
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrorTypeTransaction, se.Type)
	assert.False(t, IsConfigurationError(err))
	assert.False(t, IsValidationError(err))
	assert.True(t, IsConfigurationError(NewUnregisteredFieldError(1)))
}

func TestStoreErrorDetails(t *testing.T) {
	err := NewBootstrapObjectError("procStoreText", nil).WithDetail("dialect", "mysql")
	assert.Equal(t, "mysql", err.Details["dialect"])
	assert.Equal(t, ErrCodeObjectFailed, err.Code)
	assert.Nil(t, err.Unwrap())
}
