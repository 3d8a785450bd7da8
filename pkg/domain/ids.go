// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "relaypool/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing AccountID where SessionKey is expected.
type (
	AccountID uuid.UUID
)

// SessionKey is a caller-chosen opaque string used to pin a conversation to
// one upstream account across requests.
type SessionKey string

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseAccountID(s string) (AccountID, error) {
	id, err := parseUUID(s, "account ID")
	return AccountID(id), err
}

func ParseSessionKey(s string) (SessionKey, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "session key cannot be empty")
	}
	return SessionKey(s), nil
}

// String methods - for logging and debugging.

func (id AccountID) String() string { return uuid.UUID(id).String() }
func (k SessionKey) String() string { return string(k) }

// IsNil checks - used for service-layer validation.

func (id AccountID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (k SessionKey) IsNil() bool { return k == "" }

// parseUUID is the shared validation logic.
// Note: Nil UUIDs are allowed here. Use IsNil() at the service layer for
// business validation, which allows store lookups to return proper
// "not found" errors for consistency.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}
