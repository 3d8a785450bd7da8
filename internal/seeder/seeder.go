// Package seeder loads upstream accounts from declarative seed files and
// registers them with the catalog. Seeding is idempotent: accounts are
// matched by name and existing ones are left untouched, so live usage
// counters survive restarts and repeated passes. Credentials may reference
// environment variables as ${VAR}; they are expanded before parsing.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"relaypool/internal/account/models"
	"relaypool/internal/account/service"
	dErrors "relaypool/pkg/domain-errors"
	"relaypool/pkg/platform/validation"
)

// File is the parsed shape of one seed file.
type File struct {
	Accounts []Entry `yaml:"accounts" toml:"accounts"`
}

// Entry declares one account to ensure. Name doubles as the idempotency
// key across passes.
type Entry struct {
	Name       string            `yaml:"name" toml:"name"`
	Provider   string            `yaml:"provider" toml:"provider"`
	Credential string            `yaml:"credential" toml:"credential"`
	Labels     map[string]string `yaml:"labels" toml:"labels"`
}

// Load reads and validates a seed file. The format follows the file
// extension: .yaml/.yml or .toml.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, dErrors.Wrap(err, dErrors.CodeInternal, "read seed file")
	}
	expanded := os.ExpandEnv(string(data))

	var f File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal([]byte(expanded), &f)
	case ".toml":
		err = toml.Unmarshal([]byte(expanded), &f)
	default:
		return File{}, dErrors.New(dErrors.CodeValidation, "unsupported seed file extension: "+ext)
	}
	if err != nil {
		return File{}, dErrors.Wrap(err, dErrors.CodeValidation, "parse seed file")
	}

	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate checks the file-level shape. Deep per-field limits are enforced
// again by the account model at create time; this pass exists to give the
// operator indexed errors before any account is touched.
func (f File) Validate() error {
	if err := validation.CheckSliceCount("seed accounts", len(f.Accounts), validation.MaxSeedAccounts); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(f.Accounts))
	for i, e := range f.Accounts {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("seed account[%d]: name is required", i))
		}
		if _, dup := seen[name]; dup {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("seed account[%d]: duplicate name %q", i, name))
		}
		seen[name] = struct{}{}

		if _, err := models.ParseProvider(e.Provider); err != nil {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("seed account[%d] %q: unknown provider %q", i, name, e.Provider))
		}
		if strings.TrimSpace(e.Credential) == "" {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("seed account[%d] %q: credential is required", i, name))
		}
	}
	return nil
}

// Catalog is the slice of the account service the seeder drives.
type Catalog interface {
	EnsureAccount(ctx context.Context, cmd service.CreateAccountCommand) (*models.Account, bool, error)
}

// ListInvalidator drops the cached account list after a watch-triggered
// pass, covering catalog edits the pass itself did not make.
type ListInvalidator interface {
	InvalidateAccountList()
}

// Result summarizes one seeding pass.
type Result struct {
	Created  int
	Existing int
	Failed   int
}

type Option func(*Seeder)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Seeder) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInvalidator(invalidator ListInvalidator) Option {
	return func(s *Seeder) {
		s.invalidator = invalidator
	}
}

// Seeder applies one seed file to the catalog, optionally re-applying it
// whenever the file changes.
type Seeder struct {
	catalog     Catalog
	path        string
	invalidator ListInvalidator
	logger      *slog.Logger
}

func New(catalog Catalog, path string, opts ...Option) *Seeder {
	s := &Seeder{
		catalog: catalog,
		path:    path,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run applies the seed file once. Per-entry failures are counted and
// skipped rather than aborting the pass; only an unreadable or invalid
// file is an error. Existing accounts are never modified: rotating a
// credential means deleting the account and re-seeding.
func (s *Seeder) Run(ctx context.Context) (Result, error) {
	file, err := Load(s.path)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, entry := range file.Accounts {
		// Validated during Load.
		provider, _ := models.ParseProvider(entry.Provider)

		_, created, err := s.catalog.EnsureAccount(ctx, service.CreateAccountCommand{
			Name:       entry.Name,
			Provider:   provider,
			Credential: entry.Credential,
			Labels:     entry.Labels,
		})
		if err != nil {
			result.Failed++
			s.logger.ErrorContext(ctx, "failed to seed account",
				"name", entry.Name,
				"provider", entry.Provider,
				"error", err,
			)
			continue
		}
		if created {
			result.Created++
		} else {
			result.Existing++
		}
	}

	s.logger.InfoContext(ctx, "seed pass complete",
		"path", s.path,
		"created", result.Created,
		"existing", result.Existing,
		"failed", result.Failed,
	)
	return result, nil
}
