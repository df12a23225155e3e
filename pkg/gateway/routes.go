package gateway

import "strings"

// PublicRoutes lists requests sent without a bearer token and never refreshed on 401.
// An entry is either a path ("/auth/login") or a method-qualified path ("POST /users").
// A path entry matches the same path and anything below it on a segment boundary.
type PublicRoutes []string

// DefaultPublicRoutes covers login, token refresh, and account registration.
func DefaultPublicRoutes() PublicRoutes {
	return PublicRoutes{"/auth/login", "/auth/refresh", "POST /users"}
}

// Match reports whether a request with the given method and path is public.
func (routes PublicRoutes) Match(method string, path string) bool {
	requestPath := normalizeRoutePath(path)
	for _, entry := range routes {
		entryMethod, entryPath := splitRouteEntry(entry)
		if entryPath == "" {
			continue
		}
		if entryMethod != "" && !strings.EqualFold(entryMethod, method) {
			continue
		}
		if entryPath == "/" || requestPath == entryPath || strings.HasPrefix(requestPath, entryPath+"/") {
			return true
		}
	}
	return false
}

func splitRouteEntry(entry string) (string, string) {
	fields := strings.Fields(entry)
	switch len(fields) {
	case 1:
		return "", normalizeRoutePath(fields[0])
	case 2:
		return strings.ToUpper(fields[0]), normalizeRoutePath(fields[1])
	default:
		return "", ""
	}
}

func normalizeRoutePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if index := strings.IndexAny(trimmed, "?#"); index >= 0 {
		trimmed = trimmed[:index]
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	if len(trimmed) > 1 {
		trimmed = strings.TrimRight(trimmed, "/")
		if trimmed == "" {
			trimmed = "/"
		}
	}
	return trimmed
}
