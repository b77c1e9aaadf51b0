package address

import (
	"net/mail"
	"strings"
)

// Domains whose mailboxes ignore dots and "+tag" suffixes in the local part.
var gmailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
}

// Canonicalize returns the form of an email address used for equality checks.
// It accepts bare addresses, "mailto:" URIs and "Name <addr>" forms.
func Canonicalize(addr string) string {
	addr = StripMailto(addr)
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	addr = strings.ToLower(strings.TrimSpace(addr))

	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return addr
	}
	local, domain := addr[:at], addr[at+1:]
	if gmailDomains[domain] {
		if plus := strings.Index(local, "+"); plus >= 0 {
			local = local[:plus]
		}
		local = strings.ReplaceAll(local, ".", "")
		domain = "gmail.com"
	}
	return local + "@" + domain
}

// StripMailto removes a "mailto:" scheme in any case, along with surrounding space.
func StripMailto(addr string) string {
	addr = strings.TrimSpace(addr)
	if len(addr) >= 7 && strings.EqualFold(addr[:7], "mailto:") {
		addr = strings.TrimSpace(addr[7:])
	}
	return addr
}

// Equal reports whether two addresses name the same mailbox.
func Equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return Canonicalize(a) == Canonicalize(b)
}
