package usagelog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyClient(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		want      string
	}{
		{"empty", "", "unknown"},
		{"whitespace only", "   ", "unknown"},
		{"cli product token", "claude-cli/1.0.4 (external, cli)", "claude-cli"},
		{"sdk product token", "openai-python/1.35.7", "openai-python"},
		{"bare product", "poolctl", "poolctl"},
		{"uppercase product", "MyAgent/2.0", "myagent"},
		{
			"chrome browser",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			"chrome",
		},
		{
			"googlebot",
			"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			"bot",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyClient(tc.userAgent))
		})
	}
}
