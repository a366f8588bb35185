package smtpfsm

import (
	"strings"

	"golang.org/x/net/idna"
)

// SplitAddr splits a bare user@domain address into its local and domain
// parts. The postmaster address and other domain-less forms return an
// empty domain.
func SplitAddr(addr string) (user, domain string) {
	parts := strings.SplitN(addr, "@", 2)
	if len(parts) != 2 {
		return addr, ""
	}
	return parts[0], parts[1]
}

// DomainOfAddr returns the domain part of a bare address, or "" if there is
// none (e.g. the null reverse-path or a bare postmaster).
func DomainOfAddr(addr string) string {
	_, domain := SplitAddr(addr)
	return domain
}

// ParsePath extracts the address inside an SMTP reverse-path or
// forward-path argument, i.e. the content between angle brackets in
// "<user@domain>", with an optional trailing parameter string (used by
// MAIL FROM's BODY=8BITMIME and similar). The null reverse-path "<>" parses
// to an empty address with no error, matching RFC 5321's MAIL FROM:<>.
func ParsePath(arg string) (addr string, params string, ok bool) {
	arg = strings.TrimSpace(arg)
	start := strings.IndexByte(arg, '<')
	end := strings.IndexByte(arg, '>')
	if start != 0 || end < start {
		return "", "", false
	}
	addr = arg[start+1 : end]
	params = strings.TrimSpace(arg[end+1:])
	return addr, params, true
}

// ValidDomain reports whether d is a syntactically valid domain name for
// HELO/EHLO or an address's domain part, using IDNA/Unicode normalization
// to catch what would otherwise fail only once handed to the wire.
func ValidDomain(d string) bool {
	if d == "" {
		return false
	}
	_, err := idna.Lookup.ToASCII(d)
	return err == nil
}
