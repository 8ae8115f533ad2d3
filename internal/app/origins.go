package app

import "strings"

// OriginPolicy decides which browser origins may call the API and open
// sockets. Requests without an Origin header are always allowed; outside
// strict mode every origin is tolerated.
type OriginPolicy struct {
	Allowed []string
	Strict  bool
}

func (p OriginPolicy) Allows(origin string) bool {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" || !p.Strict {
		return true
	}
	for _, allowed := range p.Allowed {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
