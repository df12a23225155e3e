package sandbox

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// normalizeOrigins reduces each entry to a lowercase scheme://host[:port], keeping the configured
// order and dropping blanks and duplicates.
func normalizeOrigins(origins []string) ([]string, error) {
	var normalized []string
	for _, origin := range origins {
		trimmed := strings.TrimSuffix(strings.TrimSpace(origin), "/")
		if trimmed == "" {
			continue
		}
		parsed, err := url.Parse(trimmed)
		if err != nil || parsed.Host == "" || parsed.User != nil || parsed.Path != "" || parsed.RawQuery != "" || parsed.Fragment != "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidOrigin, origin)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidOrigin, origin)
		}
		value := parsed.Scheme + "://" + strings.ToLower(parsed.Host)
		if !slices.Contains(normalized, value) {
			normalized = append(normalized, value)
		}
	}
	return normalized, nil
}

// corsMiddleware lets browser clients on the given origins call the API with bearer tokens.
// Origins must already be normalized.
func corsMiddleware(logger *zap.Logger, origins []string) gin.HandlerFunc {
	for _, origin := range origins {
		if strings.HasPrefix(origin, "http://") && !isLoopbackOrigin(origin) {
			logger.Warn("plain http origin allowed",
				zap.String("code", "sandbox.cors.insecure_origin"),
				zap.String("origin", origin))
		}
	}
	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Type"},
		MaxAge:        12 * time.Hour,
	})
}

func isLoopbackOrigin(origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	if host == "localhost" {
		return true
	}
	address := net.ParseIP(host)
	return address != nil && address.IsLoopback()
}
