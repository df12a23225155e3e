package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/tyemirov/clinicgate/internal/metrics"
	"github.com/tyemirov/clinicgate/pkg/credentials"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds each HTTP call when Config.Timeout is zero.
	DefaultTimeout = 10 * time.Second
	// DefaultRefreshPath is the token exchange endpoint relative to the base URL.
	DefaultRefreshPath = "/auth/refresh"
	// DefaultLoginPath is the application surface users are sent to after an unrecoverable auth failure.
	DefaultLoginPath = "/login"
)

// Redirect describes the navigation an application performs after an unrecoverable
// authentication failure.
type Redirect struct {
	LoginPath string
	Cause     *Error
}

// Config configures the Client.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	Headers      map[string]string
	PublicRoutes PublicRoutes
	RefreshPath  string
	LoginPath    string
	Credentials  credentials.Store
	Logger       *zap.Logger
	Metrics      metrics.Recorder
	// OnUnrecoverable runs once per failed refresh, after the credential store is cleared
	// and waiting requests are rejected. It may issue requests through the same client;
	// failures raised while it runs do not invoke it again.
	OnUnrecoverable func(ctx context.Context, redirect Redirect)
	Transport       http.RoundTripper
}
