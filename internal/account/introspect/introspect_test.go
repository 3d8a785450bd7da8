package introspect

import (
	"encoding/json"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signedToken builds a real JWT; the signature is irrelevant because
// introspection never verifies it.
func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("irrelevant"))
	require.NoError(t, err)
	return token
}

func TestLabelsFromBareToken(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		"email":     "ops@example.com",
		"plan_type": "team",
	})

	labels := Labels(token)

	assert.Equal(t, map[string]string{
		LabelEmail: "ops@example.com",
		LabelPlan:  "team",
		LabelTier:  "team",
	}, labels)
}

func TestLabelsFromNamespacedClaims(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		"email": "seat@example.com",
		"https://api.openai.com/auth": map[string]any{
			"chatgpt_plan_type": "plus",
		},
	})

	labels := Labels(token)

	assert.Equal(t, "plus", labels[LabelPlan])
	assert.Equal(t, "personal", labels[LabelTier])
	assert.Equal(t, "seat@example.com", labels[LabelEmail])
}

func TestLabelsFromOAuthEnvelopePrefersIDToken(t *testing.T) {
	idToken := signedToken(t, jwt.MapClaims{"email": "identity@example.com"})
	accessToken := signedToken(t, jwt.MapClaims{"email": "access@example.com"})

	envelope, err := json.Marshal(map[string]string{
		"access_token": accessToken,
		"id_token":     idToken,
	})
	require.NoError(t, err)

	labels := Labels(string(envelope))

	assert.Equal(t, "identity@example.com", labels[LabelEmail])
}

func TestLabelsFallsBackToAccessToken(t *testing.T) {
	accessToken := signedToken(t, jwt.MapClaims{"plan": "enterprise"})

	envelope, err := json.Marshal(map[string]string{"access_token": accessToken})
	require.NoError(t, err)

	labels := Labels(string(envelope))

	assert.Equal(t, "enterprise", labels[LabelPlan])
	assert.Equal(t, "business", labels[LabelTier])
}

func TestLabelsForPlainAPIKey(t *testing.T) {
	assert.Nil(t, Labels("sk-ant-api03-abcdef123456"))
}

func TestLabelsForTokenWithoutKnownClaims(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"sub": "user-1"})

	assert.Nil(t, Labels(token))
}

func TestLabelsForMalformedEnvelope(t *testing.T) {
	assert.Nil(t, Labels(`{"access_token": 42`))
}

func TestMergeOperatorWins(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		"email":     "mined@example.com",
		"plan_type": "team",
	})

	merged := Merge(token, map[string]string{
		LabelEmail: "pinned@example.com",
		"region":   "eu",
	})

	assert.Equal(t, map[string]string{
		LabelEmail: "pinned@example.com",
		LabelPlan:  "team",
		LabelTier:  "team",
		"region":   "eu",
	}, merged)
}

func TestMergeWithoutMinedLabels(t *testing.T) {
	operator := map[string]string{"region": "us"}

	assert.Equal(t, operator, Merge("sk-plain-key", operator))
	assert.Nil(t, Merge("sk-plain-key", nil))
}

func TestTier(t *testing.T) {
	tests := []struct {
		plan string
		want string
	}{
		{"", "unknown"},
		{"team", "team"},
		{"Team", "team"},
		{"business", "business"},
		{"enterprise", "business"},
		{"edu", "business"},
		{"plus", "personal"},
		{"pro", "personal"},
		{"max", "personal"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Tier(tt.plan), "plan %q", tt.plan)
	}
}
