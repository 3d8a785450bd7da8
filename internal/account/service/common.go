package service

import (
	"context"
	"time"

	"relaypool/internal/account/models"
	id "relaypool/pkg/domain"
	dErrors "relaypool/pkg/domain-errors"
)

// Store interfaces define persistence contracts.

type AccountStore interface {
	Create(ctx context.Context, account *models.Account) error
	FindByID(ctx context.Context, accountID id.AccountID) (*models.Account, error)
	FindByName(ctx context.Context, name string) (*models.Account, error)
	LoadAll(ctx context.Context) ([]*models.Account, error)
	Delete(ctx context.Context, accountID id.AccountID) error
	SetEnabled(ctx context.Context, accountID id.AccountID, enabled bool, reason string, at time.Time) (bool, error)
	Count(ctx context.Context) (int, error)
}

// PoolInvalidator drops derived selection state after catalog mutations, so
// the engine never keeps serving a roster that no longer exists.
type PoolInvalidator interface {
	InvalidateAccountList()
	InvalidateQuota(ctx context.Context, accountID id.AccountID)
}

func requireAccountID(accountID id.AccountID) error {
	if accountID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "account ID required")
	}
	return nil
}

// wrapAccountErr keeps store NotFound errors intact and hides everything
// else behind an internal code.
func wrapAccountErr(err error, action string) error {
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, action)
}
