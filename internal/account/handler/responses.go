package handler

import (
	"context"
	"time"

	admincontracts "relaypool/contracts/admin"
	"relaypool/internal/account/models"
	"relaypool/internal/quota"
	id "relaypool/pkg/domain"
)

// Response mapping functions - convert domain objects to the shared
// management contract DTOs.

func toAccountView(a *models.Account) admincontracts.AccountView {
	return admincontracts.AccountView{
		ID:               a.ID.String(),
		Name:             a.Name,
		Provider:         a.Provider.String(),
		Labels:           a.Labels,
		Enabled:          a.Enabled,
		DisabledReason:   a.DisabledReason,
		UsageCount:       a.UsageCount,
		LastUsedAt:       a.LastUsedAt,
		RateLimitedUntil: a.RateLimitedUntil,
		CreatedAt:        a.CreatedAt,
	}
}

func toAccountViews(accounts []*models.Account) []admincontracts.AccountView {
	views := make([]admincontracts.AccountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, toAccountView(a))
	}
	return views
}

func toToggleResponse(a *models.Account, changed bool) *admincontracts.ToggleAccountResponse {
	return &admincontracts.ToggleAccountResponse{
		Account: toAccountView(a),
		Changed: changed,
	}
}

func toClearRateLimitResponse(a *models.Account, cleared bool) *admincontracts.ClearRateLimitResponse {
	return &admincontracts.ClearRateLimitResponse{
		Cleared: cleared,
		Account: toAccountView(a),
	}
}

func toQuotaView(accountID id.AccountID, status quota.Status) admincontracts.QuotaView {
	return admincontracts.QuotaView{
		AccountID:      accountID.String(),
		Shape:          string(status.Shape),
		HealthScore:    status.HealthScore,
		Exhausted:      status.Exhausted,
		Expired:        status.Expired,
		PrimaryUsedPct: status.PrimaryUsedPct,
		Detail:         status.Detail,
		NextReset:      status.NextReset,
		LastUpdatedAt:  status.LastUpdatedAt,
	}
}

func toPoolStatus(ctx context.Context, accounts []*models.Account, quotas QuotaReader, at time.Time) *admincontracts.PoolStatus {
	status := &admincontracts.PoolStatus{
		Accounts:    toAccountViews(accounts),
		Quotas:      make(map[string]admincontracts.QuotaView),
		GeneratedAt: at,
	}
	for _, a := range accounts {
		if qs, ok := quotas.GetQuotaStatus(ctx, a.ID); ok {
			status.Quotas[a.ID.String()] = toQuotaView(a.ID, qs)
		}
	}
	return status
}
