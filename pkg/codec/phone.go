package codec

import "strings"

// NormalizePhone strips the provider routing suffix ("@c.us",
// "@s.whatsapp.net", any "@..." tail) and every non-digit, yielding the
// bare digit string used as the canonical chat key.
func NormalizePhone(raw string) string {
	if raw == "" {
		return ""
	}
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		raw = raw[:i]
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
