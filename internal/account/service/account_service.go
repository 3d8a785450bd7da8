package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"relaypool/internal/account/introspect"
	accountmetrics "relaypool/internal/account/metrics"
	"relaypool/internal/account/models"
	id "relaypool/pkg/domain"
	dErrors "relaypool/pkg/domain-errors"
	"relaypool/pkg/requestcontext"
)

// AccountService orchestrates catalog lifecycle management. Every mutation
// goes through the store's atomic operations and is followed by the matching
// cache invalidation, so concurrent relay instances converge on the same
// roster.
type AccountService struct {
	accounts    AccountStore
	invalidator PoolInvalidator
	logger      *slog.Logger
	metrics     *accountmetrics.Metrics
}

func NewAccountService(accounts AccountStore, opts ...Option) *AccountService {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &AccountService{
		accounts:    accounts,
		invalidator: cfg.invalidator,
		logger:      cfg.logger,
		metrics:     cfg.metrics,
	}
}

// CreateAccountCommand carries the fields needed to register an upstream
// account with the pool.
type CreateAccountCommand struct {
	Name       string
	Provider   models.Provider
	Credential string
	Labels     map[string]string
}

func (s *AccountService) CreateAccount(ctx context.Context, cmd CreateAccountCommand) (*models.Account, error) {
	// Credential claims fill label gaps; explicit labels always win.
	account, err := models.NewAccount(
		id.AccountID(uuid.New()),
		strings.TrimSpace(cmd.Name),
		cmd.Provider,
		cmd.Credential,
		introspect.Merge(cmd.Credential, cmd.Labels),
		requestcontext.Now(ctx),
	)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create account")
	}

	s.invalidateList()
	s.logEvent(ctx, "account_created",
		"account_id", account.ID.String(),
		"provider", string(account.Provider),
	)
	s.incrementCreated(account.Provider)
	s.refreshCatalogSize(ctx)
	return account, nil
}

func (s *AccountService) GetAccount(ctx context.Context, accountID id.AccountID) (*models.Account, error) {
	if err := requireAccountID(accountID); err != nil {
		return nil, err
	}
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, wrapAccountErr(err, "failed to find account")
	}
	return account, nil
}

func (s *AccountService) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	accounts, err := s.accounts.LoadAll(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list accounts")
	}
	return accounts, nil
}

// SetAccountEnabled flips the operator switch. The returned bool reports
// whether the call actually changed anything; repeating the same state is
// not an error.
func (s *AccountService) SetAccountEnabled(ctx context.Context, accountID id.AccountID, enabled bool, reason string) (*models.Account, bool, error) {
	if err := requireAccountID(accountID); err != nil {
		return nil, false, err
	}

	changed, err := s.accounts.SetEnabled(ctx, accountID, enabled, strings.TrimSpace(reason), requestcontext.Now(ctx))
	if err != nil {
		return nil, false, wrapAccountErr(err, "failed to toggle account")
	}
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, false, wrapAccountErr(err, "failed to reload account")
	}

	if changed {
		s.invalidateList()
		s.logEvent(ctx, "account_toggled",
			"account_id", accountID.String(),
			"enabled", enabled,
		)
		s.incrementToggled(enabled)
	}
	return account, changed, nil
}

func (s *AccountService) DeleteAccount(ctx context.Context, accountID id.AccountID) error {
	if err := requireAccountID(accountID); err != nil {
		return err
	}
	if err := s.accounts.Delete(ctx, accountID); err != nil {
		return wrapAccountErr(err, "failed to delete account")
	}

	s.invalidateList()
	s.invalidateQuota(ctx, accountID)
	s.logEvent(ctx, "account_deleted", "account_id", accountID.String())
	s.incrementDeleted()
	s.refreshCatalogSize(ctx)
	return nil
}

// EnsureAccount registers the account unless one with the same name already
// exists. Seeding reruns this for every entry on each pass, so existing
// accounts keep their live usage counters untouched.
func (s *AccountService) EnsureAccount(ctx context.Context, cmd CreateAccountCommand) (*models.Account, bool, error) {
	name := strings.TrimSpace(cmd.Name)
	existing, err := s.accounts.FindByName(ctx, name)
	if err == nil {
		return existing, false, nil
	}
	if !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to find account by name")
	}

	account, err := models.NewAccount(
		id.AccountID(uuid.New()),
		name,
		cmd.Provider,
		cmd.Credential,
		cmd.Labels,
		requestcontext.Now(ctx),
	)
	if err != nil {
		return nil, false, err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			// Lost the race against a concurrent seeder; the winner's row
			// is authoritative.
			winner, findErr := s.accounts.FindByName(ctx, name)
			if findErr != nil {
				return nil, false, dErrors.Wrap(findErr, dErrors.CodeInternal, "failed to reload account after create race")
			}
			return winner, false, nil
		}
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create account")
	}

	s.invalidateList()
	s.logEvent(ctx, "account_created",
		"account_id", account.ID.String(),
		"provider", string(account.Provider),
	)
	s.incrementCreated(account.Provider)
	s.refreshCatalogSize(ctx)
	return account, true, nil
}

func (s *AccountService) invalidateList() {
	if s.invalidator != nil {
		s.invalidator.InvalidateAccountList()
	}
}

func (s *AccountService) invalidateQuota(ctx context.Context, accountID id.AccountID) {
	if s.invalidator != nil {
		s.invalidator.InvalidateQuota(ctx, accountID)
	}
}

func (s *AccountService) logEvent(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event)
	s.logger.InfoContext(ctx, event, args...)
}

func (s *AccountService) incrementCreated(provider models.Provider) {
	if s.metrics != nil {
		s.metrics.IncrementAccountCreated(string(provider))
	}
}

func (s *AccountService) incrementDeleted() {
	if s.metrics != nil {
		s.metrics.IncrementAccountDeleted()
	}
}

func (s *AccountService) incrementToggled(enabled bool) {
	if s.metrics != nil {
		s.metrics.IncrementAccountToggled(enabled)
	}
}

func (s *AccountService) refreshCatalogSize(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if n, err := s.accounts.Count(ctx); err == nil {
		s.metrics.SetCatalogSize(n)
	}
}
