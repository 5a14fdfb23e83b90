package ignore

import (
	"net/netip"

	"go4.org/netipx"
)

// specialPurposeRanges lists loopback, private, shared, link-local,
// documentation, multicast and reserved blocks for both address families.
var specialPurposeRanges = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::/128",
	"::1/128",
	"::/96",
	"::ffff:0:0/96",
	"2001:db8::/32",
	"fe80::/10",
	"fec0::/10",
	"fc00::/7",
	"ff00::/8",
}

var specialPurposeSet = buildIPSet(specialPurposeRanges)

// buildIPSet compiles CIDR strings into an immutable set. Entries that do not
// parse are skipped so a bad row can only shrink the set.
func buildIPSet(cidrs []string) *netipx.IPSet {
	var b netipx.IPSetBuilder
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			continue
		}
		b.AddPrefix(p.Masked())
	}
	set, err := b.IPSet()
	if err != nil {
		return &netipx.IPSet{}
	}
	return set
}

// IsSpecialPurposeIP reports whether host is an IP literal inside one of the
// special-purpose ranges. Anything that is not an IP literal is not special.
func IsSpecialPurposeIP(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return specialPurposeSet.Contains(addr.WithZone(""))
}
