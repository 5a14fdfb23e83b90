package utils

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// ErrEmptyHost is returned when no hostname can be extracted from the input.
var ErrEmptyHost = errors.New("empty host")

// CanonicalHostname returns a hostname in canonical form:
// - Lowercased
// - Trimmed of surrounding whitespace
// - No trailing dots
func CanonicalHostname(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ToLower(name)
	for strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	}
	return name
}

// DisplayHostname strips a leading "www." and a trailing dot. It is meant for
// presentation only; policy matching works on second-level reduction instead.
func DisplayHostname(name string) string {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	return strings.TrimPrefix(name, "www.")
}

// ExtractHostname pulls the hostname out of a URL as a browser would report it.
// Inputs without a scheme are treated as bare host[:port] values. Userinfo, port
// and IPv6 brackets are removed, IP literals are returned in their canonical
// textual form and IDN labels are converted to punycode.
func ExtractHostname(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyHost
	}

	rest := raw
	if i := strings.Index(raw, "://"); i >= 0 {
		rest = raw[i+3:]
	}
	if cut := strings.IndexAny(rest, "/?#"); cut >= 0 {
		rest = rest[:cut]
	}

	// user:pass@host
	if at := strings.LastIndexByte(rest, '@'); at >= 0 {
		rest = rest[at+1:]
	}

	host := rest
	if strings.Contains(rest, ":") {
		if h, _, err := net.SplitHostPort(rest); err == nil {
			host = h
		}
	}
	if len(host) > 2 && host[0] == '[' && host[len(host)-1] == ']' {
		host = host[1 : len(host)-1]
	}

	host = CanonicalHostname(host)
	if host == "" {
		return "", ErrEmptyHost
	}

	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	return toASCII(host)
}

// NormalizeHostname returns name in the form every stored or compared host
// uses: canonical as per CanonicalHostname with IDN labels in punycode, the
// way browsers report them. It returns "" when name cannot be converted.
func NormalizeHostname(name string) string {
	name = CanonicalHostname(name)
	if name == "" {
		return ""
	}
	ascii, err := toASCII(name)
	if err != nil {
		return ""
	}
	return ascii
}

func toASCII(host string) (string, error) {
	if isASCII(host) {
		return host, nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("idna: %w", err)
	}
	return strings.ToLower(ascii), nil
}

// ApexDomain returns the registrable domain (eTLD+1) of name, falling back to
// the canonical name when the public suffix list cannot classify it.
func ApexDomain(name string) string {
	name = CanonicalHostname(name)
	apex, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return name
	}
	return apex
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
