package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"relaypool/internal/account/models"
	id "relaypool/pkg/domain"
	dErrors "relaypool/pkg/domain-errors"
)

// PostgresAccountStore persists the catalog in PostgreSQL. Usage and rate
// limit mutations are single conditioned UPDATE statements, so concurrent
// relay instances never lose increments to read-modify-write races.
type PostgresAccountStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed account store.
func NewPostgres(db *sql.DB) *PostgresAccountStore {
	return &PostgresAccountStore{db: db}
}

const accountColumns = `id, name, provider, credential, labels, enabled, disabled_reason, usage_count, last_used_at, rate_limited_until, created_at, updated_at`

func (s *PostgresAccountStore) Create(ctx context.Context, account *models.Account) error {
	if account == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "account is required")
	}
	labels, err := json.Marshal(account.Labels)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal labels")
	}
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(account.ID),
		account.Name,
		string(account.Provider),
		account.Credential,
		labels,
		account.Enabled,
		account.DisabledReason,
		account.UsageCount,
		nullableTime(account.LastUsedAt),
		nullableTime(account.RateLimitedUntil),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == "accounts_pkey" {
				return dErrors.New(dErrors.CodeConflict, "account id already exists")
			}
			return dErrors.New(dErrors.CodeConflict, "account name already taken")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "create account")
	}
	return nil
}

func (s *PostgresAccountStore) FindByID(ctx context.Context, accountID id.AccountID) (*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = $1
	`
	account, err := scanAccount(s.db.QueryRowContext(ctx, query, uuid.UUID(accountID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find account by id")
	}
	return account, nil
}

func (s *PostgresAccountStore) FindByName(ctx context.Context, name string) (*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE name = $1
	`
	account, err := scanAccount(s.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find account by name")
	}
	return account, nil
}

func (s *PostgresAccountStore) LoadAll(ctx context.Context) ([]*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load accounts")
	}
	defer rows.Close()

	accounts := make([]*models.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "scan account")
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "iterate accounts")
	}
	return accounts, nil
}

func (s *PostgresAccountStore) Update(ctx context.Context, account *models.Account) error {
	if account == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "account is required")
	}
	labels, err := json.Marshal(account.Labels)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal labels")
	}
	query := `
		UPDATE accounts
		SET name = $2, provider = $3, credential = $4, labels = $5, enabled = $6,
		    disabled_reason = $7, usage_count = $8, last_used_at = $9,
		    rate_limited_until = $10, updated_at = $11
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(account.ID),
		account.Name,
		string(account.Provider),
		account.Credential,
		labels,
		account.Enabled,
		account.DisabledReason,
		account.UsageCount,
		nullableTime(account.LastUsedAt),
		nullableTime(account.RateLimitedUntil),
		account.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return dErrors.New(dErrors.CodeConflict, "account name already taken")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "update account")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "update account rows")
	}
	if rows == 0 {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	return nil
}

func (s *PostgresAccountStore) Delete(ctx context.Context, accountID id.AccountID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, uuid.UUID(accountID))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete account")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete account rows")
	}
	if rows == 0 {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	return nil
}

func (s *PostgresAccountStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "count accounts")
	}
	return count, nil
}

// IncrementUsage bumps the usage counter and advances last_used_at in one
// statement. GREATEST keeps last_used_at monotonic when bumps arrive out of
// order from different instances.
func (s *PostgresAccountStore) IncrementUsage(ctx context.Context, accountID id.AccountID, at time.Time) error {
	query := `
		UPDATE accounts
		SET usage_count = usage_count + 1,
		    last_used_at = GREATEST(COALESCE(last_used_at, $2), $2),
		    updated_at = $2
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, uuid.UUID(accountID), at)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "increment usage")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "increment usage rows")
	}
	if rows == 0 {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	return nil
}

func (s *PostgresAccountStore) SetEnabled(ctx context.Context, accountID id.AccountID, enabled bool, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE accounts
		SET enabled = $2,
		    disabled_reason = CASE WHEN $2 THEN '' ELSE $3 END,
		    updated_at = $4
		WHERE id = $1 AND enabled <> $2
	`
	return s.applyConditioned(ctx, accountID, query, uuid.UUID(accountID), enabled, reason, at)
}

func (s *PostgresAccountStore) SetRateLimit(ctx context.Context, accountID id.AccountID, until time.Time, at time.Time) (bool, error) {
	query := `
		UPDATE accounts
		SET rate_limited_until = $2, updated_at = $3
		WHERE id = $1 AND (rate_limited_until IS NULL OR rate_limited_until < $2)
	`
	return s.applyConditioned(ctx, accountID, query, uuid.UUID(accountID), until, at)
}

func (s *PostgresAccountStore) ClearRateLimitIfExpired(ctx context.Context, accountID id.AccountID, now time.Time) (bool, error) {
	query := `
		UPDATE accounts
		SET rate_limited_until = NULL, updated_at = $3
		WHERE id = $1 AND rate_limited_until IS NOT NULL AND rate_limited_until <= $2
	`
	return s.applyConditioned(ctx, accountID, query, uuid.UUID(accountID), now, now)
}

// applyConditioned runs a guarded UPDATE and reports whether it changed a
// row. Zero rows means either the guard held or the account is gone, so the
// miss path does one existence probe to tell the two apart.
func (s *PostgresAccountStore) applyConditioned(ctx context.Context, accountID id.AccountID, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "apply account update")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "apply account update rows")
	}
	if rows > 0 {
		return true, nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, uuid.UUID(accountID)).Scan(&exists)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "check account exists")
	}
	if !exists {
		return false, dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	return false, nil
}

type accountRow interface {
	Scan(dest ...any) error
}

func scanAccount(row accountRow) (*models.Account, error) {
	var (
		account          models.Account
		accountID        uuid.UUID
		provider         string
		labels           []byte
		lastUsedAt       sql.NullTime
		rateLimitedUntil sql.NullTime
	)
	err := row.Scan(
		&accountID,
		&account.Name,
		&provider,
		&account.Credential,
		&labels,
		&account.Enabled,
		&account.DisabledReason,
		&account.UsageCount,
		&lastUsedAt,
		&rateLimitedUntil,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	account.ID = id.AccountID(accountID)
	account.Provider = models.Provider(provider)
	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &account.Labels); err != nil {
			return nil, err
		}
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		account.LastUsedAt = &t
	}
	if rateLimitedUntil.Valid {
		t := rateLimitedUntil.Time
		account.RateLimitedUntil = &t
	}
	return &account, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}
