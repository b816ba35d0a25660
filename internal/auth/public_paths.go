package auth

import (
	"net/http"
	"path"
	"strings"
)

// subtreeSuffix marks a public path entry that also covers everything below it.
const subtreeSuffix = "/*"

// PublicPaths is a set of paths that bypass authentication. An entry matches
// its own path only, so "/health" covers neither "/health/api/v3/index.json"
// nor "/healthcheck". An entry ending in "/*" covers its whole subtree, and
// "/*" alone makes every path public.
type PublicPaths struct {
	exact    []string
	subtrees []string
	all      bool
}

// NewPublicPaths normalizes the given entries.
func NewPublicPaths(paths ...string) PublicPaths {
	var p PublicPaths
	for _, raw := range paths {
		if base, ok := strings.CutSuffix(raw, subtreeSuffix); ok {
			clean := rootedClean(base)
			if clean == "/" {
				p.all = true
			}
			p.subtrees = append(p.subtrees, clean)
			continue
		}
		p.exact = append(p.exact, rootedClean(raw))
	}
	return p
}

// Match reports whether requestPath is public. The path is cleaned first, so
// "/health/../team/api/v3/index.json" is not public. Escaped separators and
// dots are never public.
func (p PublicPaths) Match(requestPath string) bool {
	lower := strings.ToLower(requestPath)
	if strings.Contains(lower, "%2f") || strings.Contains(lower, "%2e") {
		return false
	}
	if p.all {
		return true
	}

	clean := rootedClean(requestPath)
	for _, e := range p.exact {
		if clean == e {
			return true
		}
	}
	for _, prefix := range p.subtrees {
		if clean == prefix || strings.HasPrefix(clean, prefix+"/") {
			return true
		}
	}
	return false
}

func rootedClean(p string) string {
	return path.Clean("/" + p)
}

// WrapWithPublicPaths applies authMw to every request except those matching publicPaths.
func WrapWithPublicPaths(
	authMw func(http.Handler) http.Handler,
	publicPaths []string,
) func(http.Handler) http.Handler {
	public := NewPublicPaths(publicPaths...)
	return func(next http.Handler) http.Handler {
		protected := authMw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public.Match(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			protected.ServeHTTP(w, r)
		})
	}
}
