package audit

import (
	"strings"

	"github.com/mssola/useragent"
)

// DeviceSummary condenses a User-Agent into "Browser Version on OS",
// prefixed with "mobile" or "bot" when applicable. Empty input yields "".
func DeviceSummary(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return ""
	}
	ua := useragent.New(userAgent)

	name, version := ua.Browser()
	if ua.Bot() {
		return "bot " + name
	}

	var b strings.Builder
	if ua.Mobile() {
		b.WriteString("mobile ")
	}
	b.WriteString(name)
	if version != "" {
		b.WriteByte(' ')
		b.WriteString(version)
	}
	if os := ua.OS(); os != "" {
		b.WriteString(" on ")
		b.WriteString(os)
	}
	return strings.TrimSpace(b.String())
}
