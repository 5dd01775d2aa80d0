package validation

import (
	"strings"
	"testing"

	"github.com/devrev/pairdb/offload-engine/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateNodeID(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		nodeID  string
		wantErr bool
	}{
		{"valid", "storage-node-1", false},
		{"valid with dots", "node.us-east-1.pairdb", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxNodeIDSize+1), true},
		{"control character", "node\x01bad", true},
		{"null byte", "node\x00bad", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateNodeID(tt.nodeID)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDataIDs(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateDataIDs(nil), "empty list means whole payload")
	assert.NoError(t, v.ValidateDataIDs([]string{"chunk-1", "chunk-2"}))

	err := v.ValidateDataIDs([]string{"chunk-1", ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data ID 1")

	err = v.ValidateDataIDs([]string{strings.Repeat("x", MaxDataIDSize+1)})
	assert.Error(t, err)
}

func TestValidateDataIDs_TooMany(t *testing.T) {
	v := NewValidatorWithLimits(MaxNodeIDSize, MaxDataIDSize, 2)

	assert.NoError(t, v.ValidateDataIDs([]string{"a", "b"}))
	assert.Error(t, v.ValidateDataIDs([]string{"a", "b", "c"}))
}

func TestSanitizeNodeID(t *testing.T) {
	assert.Equal(t, "node-1", SanitizeNodeID("  node-1\n"))
	assert.Equal(t, "nodebad", SanitizeNodeID("node\x01bad"))

	long := strings.Repeat("a", MaxNodeIDSize+10)
	assert.Len(t, SanitizeNodeID(long), MaxNodeIDSize)
}
