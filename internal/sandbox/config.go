package sandbox

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tyemirov/clinicgate/pkg/accesstoken"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultIssuer          = "clinicgate-sandbox"
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	DefaultSlotDays        = 5
	DefaultSlotMinutes     = 50
)

var (
	// ErrMissingSigningKey indicates Config.SigningKey is empty.
	ErrMissingSigningKey = errors.New("sandbox.config.missing_signing_key")
	// ErrInvalidTTL indicates a negative token lifetime.
	ErrInvalidTTL = errors.New("sandbox.config.invalid_ttl")
	// ErrInvalidOrigin indicates an AllowedOrigins entry that is not a bare http or https origin.
	ErrInvalidOrigin = errors.New("sandbox.config.invalid_origin")
)

// Config configures token issuance and the simulated practice calendar.
type Config struct {
	SigningKey      []byte
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// AllowedOrigins enables CORS for the listed origins when non-empty. Each entry is
	// scheme://host[:port]; a trailing slash is tolerated and wildcards are rejected.
	AllowedOrigins []string
	SlotDays       int
	Clock          accesstoken.Clock
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func (configuration Config) withDefaults() (Config, error) {
	if len(configuration.SigningKey) == 0 {
		return Config{}, fmt.Errorf("sandbox.config: %w", ErrMissingSigningKey)
	}
	if configuration.AccessTokenTTL < 0 || configuration.RefreshTokenTTL < 0 {
		return Config{}, fmt.Errorf("sandbox.config: %w", ErrInvalidTTL)
	}
	origins, originErr := normalizeOrigins(configuration.AllowedOrigins)
	if originErr != nil {
		return Config{}, fmt.Errorf("sandbox.config: %w", originErr)
	}
	configuration.AllowedOrigins = origins
	if strings.TrimSpace(configuration.Issuer) == "" {
		configuration.Issuer = DefaultIssuer
	}
	if configuration.AccessTokenTTL == 0 {
		configuration.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if configuration.RefreshTokenTTL == 0 {
		configuration.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if configuration.SlotDays <= 0 {
		configuration.SlotDays = DefaultSlotDays
	}
	if configuration.Clock == nil {
		configuration.Clock = systemClock{}
	}
	return configuration, nil
}
