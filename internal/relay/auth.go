package relay

import (
	"log/slog"
	"net/http"
	"strings"

	dErrors "relaypool/pkg/domain-errors"
	"relaypool/pkg/platform/httputil"
	"relaypool/pkg/requestcontext"
	"relaypool/pkg/secrets"
)

// KeySet verifies relay API keys against their configured bcrypt hashes.
// Plaintext keys are never stored; the server only ever sees hashes.
type KeySet struct {
	hashes []string
}

func NewKeySet(hashes []string) *KeySet {
	trimmed := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			trimmed = append(trimmed, h)
		}
	}
	return &KeySet{hashes: trimmed}
}

// Empty reports whether no keys are configured. Callers decide what that
// means; RequireKey treats an empty set as "reject everything".
func (k *KeySet) Empty() bool {
	return len(k.hashes) == 0
}

// Verify checks the presented key against every configured hash. The set
// is expected to stay small (a handful of tenant keys), so the linear
// bcrypt walk is acceptable.
func (k *KeySet) Verify(key string) error {
	for _, hash := range k.hashes {
		if err := secrets.Verify(key, hash); err == nil {
			return nil
		}
	}
	return dErrors.New(dErrors.CodeUnauthorized, "invalid relay API key")
}

// RequireKey guards the relay surface. Keys arrive either as a bearer
// token or in x-api-key, matching what Claude-style SDKs send.
func RequireKey(keys *KeySet, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			key := presentedKey(r)
			if key == "" {
				logger.WarnContext(ctx, "relay request without API key",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing API key"))
				return
			}

			if err := keys.Verify(key); err != nil {
				logger.WarnContext(ctx, "relay request with invalid API key",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func presentedKey(r *http.Request) string {
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(r.Header.Get("x-api-key"))
}
