package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/devrev/pairdb/offload-engine/internal/errors"
)

const (
	// Size limits
	MaxNodeIDSize = 128
	MaxDataIDSize = 1024

	// A single offload request may name at most this many data chunks
	MaxDataIDs = 10000
)

// Validator validates identifiers arriving on offload requests
type Validator struct {
	maxNodeIDSize int
	maxDataIDSize int
	maxDataIDs    int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxNodeIDSize: MaxNodeIDSize,
		maxDataIDSize: MaxDataIDSize,
		maxDataIDs:    MaxDataIDs,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxNodeIDSize, maxDataIDSize, maxDataIDs int) *Validator {
	return &Validator{
		maxNodeIDSize: maxNodeIDSize,
		maxDataIDSize: maxDataIDSize,
		maxDataIDs:    maxDataIDs,
	}
}

// ValidateNodeID validates a target node identifier
func (v *Validator) ValidateNodeID(nodeID string) error {
	if nodeID == "" {
		return errors.InvalidArgument("node ID cannot be empty")
	}

	if len(nodeID) > v.maxNodeIDSize {
		return errors.InvalidArgument(
			fmt.Sprintf("node ID exceeds maximum size of %d bytes", v.maxNodeIDSize))
	}

	// Node IDs travel in gossip metadata and log fields; control
	// characters would corrupt both
	for _, r := range nodeID {
		if unicode.IsControl(r) {
			return errors.InvalidArgument("node ID cannot contain control characters")
		}
	}

	if strings.Contains(nodeID, "\x00") {
		return errors.InvalidArgument("node ID cannot contain null bytes")
	}

	return nil
}

// ValidateDataID validates a single data chunk identifier
func (v *Validator) ValidateDataID(dataID string) error {
	if dataID == "" {
		return errors.InvalidArgument("data ID cannot be empty")
	}

	if len(dataID) > v.maxDataIDSize {
		return errors.InvalidArgument(
			fmt.Sprintf("data ID exceeds maximum size of %d bytes", v.maxDataIDSize))
	}

	for _, r := range dataID {
		if unicode.IsControl(r) && r != '\t' {
			return errors.InvalidArgument("data ID cannot contain control characters")
		}
	}

	if strings.Contains(dataID, "\x00") {
		return errors.InvalidArgument("data ID cannot contain null bytes")
	}

	return nil
}

// ValidateDataIDs validates the data chunk list of an offload request.
// An empty list is valid: it means the whole eligible payload.
func (v *Validator) ValidateDataIDs(dataIDs []string) error {
	if len(dataIDs) > v.maxDataIDs {
		return errors.InvalidArgument(
			fmt.Sprintf("too many data IDs: %d > %d", len(dataIDs), v.maxDataIDs))
	}

	for i, id := range dataIDs {
		if err := v.ValidateDataID(id); err != nil {
			return errors.InvalidArgument(fmt.Sprintf("data ID %d: %v", i, err))
		}
	}

	return nil
}

// SanitizeNodeID sanitizes a node ID by removing forbidden characters.
// Useful for operator input that might not be perfectly formatted.
func SanitizeNodeID(nodeID string) string {
	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, nodeID)

	sanitized = strings.TrimSpace(sanitized)

	if len(sanitized) > MaxNodeIDSize {
		sanitized = sanitized[:MaxNodeIDSize]
	}

	return sanitized
}
