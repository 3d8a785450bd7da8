package validation

import (
	"fmt"

	dErrors "relaypool/pkg/domain-errors"
)

// HTTP body limits
const (
	// MaxBodySize is the maximum allowed management request body size (64 KB).
	// Sufficient for JSON APIs while preventing memory exhaustion attacks.
	// Relay payloads are larger and get their own limit.
	MaxBodySize = 64 * 1024

	// MaxRelayBodySize caps inbound relay payloads (10 MB). Claude-style
	// requests carry the full conversation history.
	MaxRelayBodySize = 10 * 1024 * 1024

	// MaxUpstreamResponseSize caps how much of an upstream response the
	// relay buffers (32 MB).
	MaxUpstreamResponseSize = 32 * 1024 * 1024
)

// Collection limits
const (
	// MaxLabels is the maximum number of labels per account.
	MaxLabels = 20

	// MaxSeedAccounts is the maximum number of accounts one seed file may declare.
	MaxSeedAccounts = 500
)

// String length limits
const (
	// MaxNameLength is the maximum length of an account name.
	MaxNameLength = 128

	// MaxReasonLength is the maximum length of a disable reason.
	MaxReasonLength = 256

	// MaxCredentialLength is the maximum length of an upstream credential.
	MaxCredentialLength = 4096

	// MaxLabelKeyLength is the maximum length of a label key.
	MaxLabelKeyLength = 64

	// MaxLabelValueLength is the maximum length of a label value.
	MaxLabelValueLength = 256

	// MaxModelNameLength is the maximum length of a requested model name.
	MaxModelNameLength = 128

	// MaxSessionIDLength is the maximum length of a sticky session identifier.
	MaxSessionIDLength = 128

	// MaxKeyHashLength is the maximum length of a configured relay key hash.
	// Bcrypt output is 60 bytes; anything much longer is a misplaced secret.
	MaxKeyHashLength = 128
)

// CheckSliceCount validates that a collection does not exceed the maximum count.
func CheckSliceCount(fieldName string, count, max int) error {
	if count > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("too many %s: max %d allowed", fieldName, max))
	}
	return nil
}

// CheckStringLength validates that a string does not exceed the maximum length.
func CheckStringLength(fieldName, value string, max int) error {
	if len(value) > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds max length of %d", fieldName, max))
	}
	return nil
}

// CheckEachStringLength validates that each string in a slice does not exceed the maximum length.
func CheckEachStringLength(fieldName string, values []string, max int) error {
	for _, v := range values {
		if len(v) > max {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds max length of %d", fieldName, max))
		}
	}
	return nil
}

// CheckLabels validates label count and per-entry key/value lengths.
func CheckLabels(labels map[string]string) error {
	if err := CheckSliceCount("labels", len(labels), MaxLabels); err != nil {
		return err
	}
	for k, v := range labels {
		if k == "" {
			return dErrors.New(dErrors.CodeValidation, "label keys must not be empty")
		}
		if len(k) > MaxLabelKeyLength {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("label key exceeds max length of %d", MaxLabelKeyLength))
		}
		if len(v) > MaxLabelValueLength {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("label value exceeds max length of %d", MaxLabelValueLength))
		}
	}
	return nil
}
