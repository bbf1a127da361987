package micropub

import (
	"net/url"
	"slices"
	"strings"
)

// Scopes checked by the service.
const (
	ScopeCreate = "create"
	ScopeUpdate = "update"
	ScopeDelete = "delete"
)

// Principal is the verified caller of a request, as established by the
// authentication layer.
type Principal struct {
	// Me is the caller's profile URL. Its host must match the site.
	Me     string
	Scopes []string
}

// HasScope reports whether scope was granted.
func (p *Principal) HasScope(scope string) bool {
	return p != nil && slices.Contains(p.Scopes, scope)
}

// authorize checks that p may act on the site. An empty scope only requires
// an authenticated principal.
func (s *Service) authorize(p *Principal, scope string) error {
	if p == nil || p.Me == "" {
		return newError(KindUnauthorized, nil, "no authenticated principal")
	}

	u, err := url.Parse(p.Me)
	if err != nil || !strings.EqualFold(u.Hostname(), s.me.Hostname()) {
		return newError(KindForbidden, err, "principal %q is not allowed to post to %s", p.Me, s.me.Host)
	}

	if scope != "" && !p.HasScope(scope) {
		return newError(KindInsufficientScope, nil, "scope %q not granted", scope)
	}

	return nil
}
