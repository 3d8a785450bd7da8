package handler

import (
	"strings"

	"relaypool/internal/account/models"
	"relaypool/internal/account/service"
	dErrors "relaypool/pkg/domain-errors"
	"relaypool/pkg/platform/validation"
)

// HTTP Request DTOs - contain JSON tags for API serialization.
// These are converted to service commands before processing. Shapes mirror
// contracts/admin so management clients and the server stay wire-compatible.

type CreateAccountRequest struct {
	Name       string            `json:"name"`
	Provider   string            `json:"provider"`
	Credential string            `json:"credential"`
	Labels     map[string]string `json:"labels,omitempty"`
}

func (r *CreateAccountRequest) Normalize() {
	if r == nil {
		return
	}
	r.Name = strings.TrimSpace(r.Name)
	r.Provider = strings.ToLower(strings.TrimSpace(r.Provider))
	r.Credential = strings.TrimSpace(r.Credential)
}

func (r *CreateAccountRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if err := validation.CheckStringLength("name", r.Name, validation.MaxNameLength); err != nil {
		return err
	}
	if r.Provider == "" {
		return dErrors.New(dErrors.CodeValidation, "provider is required")
	}
	if _, err := models.ParseProvider(r.Provider); err != nil {
		return err
	}
	if r.Credential == "" {
		return dErrors.New(dErrors.CodeValidation, "credential is required")
	}
	if err := validation.CheckStringLength("credential", r.Credential, validation.MaxCredentialLength); err != nil {
		return err
	}
	return validation.CheckLabels(r.Labels)
}

// ToCommand converts the HTTP request to a service command.
func (r *CreateAccountRequest) ToCommand() service.CreateAccountCommand {
	return service.CreateAccountCommand{
		Name:       r.Name,
		Provider:   models.Provider(r.Provider),
		Credential: r.Credential,
		Labels:     r.Labels,
	}
}

type DisableAccountRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (r *DisableAccountRequest) Normalize() {
	if r == nil {
		return
	}
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *DisableAccountRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validation.CheckStringLength("reason", r.Reason, validation.MaxReasonLength)
}

type RateLimitRequest struct {
	ResetAfterSeconds int `json:"reset_after_seconds"`
}

func (r *RateLimitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.ResetAfterSeconds <= 0 {
		return dErrors.New(dErrors.CodeValidation, "reset_after_seconds must be positive")
	}
	return nil
}

type InvalidateCacheRequest struct {
	AccountID string `json:"account_id,omitempty"`
}

func (r *InvalidateCacheRequest) Normalize() {
	if r == nil {
		return
	}
	r.AccountID = strings.TrimSpace(r.AccountID)
}
