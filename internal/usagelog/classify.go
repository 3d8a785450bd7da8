package usagelog

import (
	"strings"

	"github.com/mssola/useragent"
)

// ClassifyClient maps a User-Agent header to a short label the aggregation
// can group by. Browser traffic groups under the browser name, bots under
// "bot", and API clients under their product token ("claude-cli",
// "openai-python", ...).
func ClassifyClient(userAgentString string) string {
	userAgentString = strings.TrimSpace(userAgentString)
	if userAgentString == "" {
		return "unknown"
	}

	ua := useragent.New(userAgentString)
	if ua.Bot() {
		return "bot"
	}
	if browser, _ := ua.Browser(); browser != "" && strings.HasPrefix(userAgentString, "Mozilla/") {
		return strings.ToLower(browser)
	}

	// SDK and CLI agents send product tokens like "claude-cli/1.0.4 (cli)".
	// Keep the first product name and drop version and platform details.
	token := userAgentString
	if i := strings.IndexAny(token, " ("); i >= 0 {
		token = token[:i]
	}
	if i := strings.IndexByte(token, '/'); i >= 0 {
		token = token[:i]
	}
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return "unknown"
	}
	return token
}
