package policy

import "context"

// DomainSource supplies the blocklist the PAC is generated from.
type DomainSource interface {
	GetDomains(ctx context.Context) []string
}
