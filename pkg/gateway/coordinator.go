package gateway

import (
	"context"
	"strings"
	"sync"

	"github.com/tyemirov/clinicgate/internal/metrics"
	"github.com/tyemirov/clinicgate/pkg/credentials"
	"go.uber.org/zap"
)

type refreshOutcome struct {
	accessToken string
	err         error
}

// refreshCoordinator owns the refresh-in-progress flag and the queue of requests waiting
// on it. At most one exchange runs at a time; every request that hits a 401 while it runs
// waits for that exchange and shares its outcome.
type refreshCoordinator struct {
	mutex      sync.Mutex
	inProgress bool
	pending    []chan refreshOutcome
	// notifying is set while onUnrecoverable runs; failures raised from inside the hook
	// are returned to their callers without notifying again.
	notifying bool

	store           credentials.Store
	exchange        func(ctx context.Context, refreshToken string) (credentials.Pair, error)
	loginPath       string
	onUnrecoverable func(ctx context.Context, redirect Redirect)
	logger          *zap.Logger
	metrics         metrics.Recorder
}

// acquire returns the access token a request rejected with rejectedToken should be replayed with.
func (coordinator *refreshCoordinator) acquire(ctx context.Context, rejectedToken string) (string, error) {
	coordinator.mutex.Lock()
	if coordinator.inProgress {
		waiter := make(chan refreshOutcome, 1)
		coordinator.pending = append(coordinator.pending, waiter)
		coordinator.mutex.Unlock()
		coordinator.metrics.Increment(eventRefreshQueued)
		select {
		case outcome := <-waiter:
			return outcome.accessToken, outcome.err
		case <-ctx.Done():
			return "", newTransportError(ctx.Err())
		}
	}

	// A refresh that settled while this request was in flight already rotated the token.
	currentToken, readErr := coordinator.store.AccessToken(ctx)
	if readErr == nil && currentToken != "" && currentToken != rejectedToken {
		coordinator.mutex.Unlock()
		coordinator.metrics.Increment(eventStaleTokenRetry)
		return currentToken, nil
	}
	coordinator.inProgress = true
	coordinator.mutex.Unlock()

	accessToken, refreshErr := coordinator.refresh(context.WithoutCancel(ctx))

	coordinator.mutex.Lock()
	waiters := coordinator.pending
	coordinator.pending = nil
	coordinator.inProgress = false
	coordinator.mutex.Unlock()

	outcome := refreshOutcome{accessToken: accessToken}
	if refreshErr != nil {
		outcome.err = refreshErr
	}
	for _, waiter := range waiters {
		waiter <- outcome
	}
	if refreshErr != nil {
		coordinator.notify(ctx, refreshErr)
	}
	return outcome.accessToken, outcome.err
}

// notify runs the unrecoverable hook once the refresh state has been released, so a hook that
// issues requests through the same client cannot wait on itself.
func (coordinator *refreshCoordinator) notify(ctx context.Context, cause *Error) {
	if coordinator.onUnrecoverable == nil {
		return
	}
	coordinator.mutex.Lock()
	if coordinator.notifying {
		coordinator.mutex.Unlock()
		coordinator.logger.Debug("unrecoverable hook already running",
			zap.String("code", "gateway.redirect.suppressed"))
		return
	}
	coordinator.notifying = true
	coordinator.mutex.Unlock()

	defer func() {
		coordinator.mutex.Lock()
		coordinator.notifying = false
		coordinator.mutex.Unlock()
	}()
	coordinator.onUnrecoverable(ctx, Redirect{LoginPath: coordinator.loginPath, Cause: cause})
}

func (coordinator *refreshCoordinator) refresh(ctx context.Context) (string, *Error) {
	coordinator.metrics.Increment(eventRefreshStarted)
	refreshToken, readErr := coordinator.store.RefreshToken(ctx)
	if readErr != nil {
		return "", coordinator.fail(ctx, readErr)
	}
	if strings.TrimSpace(refreshToken) == "" {
		return "", coordinator.fail(ctx, ErrMissingRefreshToken)
	}
	pair, exchangeErr := coordinator.exchange(ctx, refreshToken)
	if exchangeErr != nil {
		return "", coordinator.fail(ctx, exchangeErr)
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	if storeErr := coordinator.store.SetPair(ctx, pair); storeErr != nil {
		return "", coordinator.fail(ctx, storeErr)
	}
	coordinator.metrics.Increment(eventRefreshSuccess)
	coordinator.logger.Info("access token refreshed")
	return pair.AccessToken, nil
}

// fail clears the credential store. The returned error is shared by the leader and every
// queued waiter.
func (coordinator *refreshCoordinator) fail(ctx context.Context, cause error) *Error {
	coordinator.metrics.Increment(eventRefreshFailure)
	if clearErr := coordinator.store.Clear(ctx); clearErr != nil {
		coordinator.logger.Error("credential store clear failed",
			zap.String("code", "gateway.credentials.clear_failed"),
			zap.Error(clearErr))
	}
	unrecoverable := &Error{
		Kind:    KindAuthUnrecoverable,
		Message: "session could not be refreshed; sign in again",
		cause:   cause,
	}
	if upstream, ok := AsError(cause); ok {
		unrecoverable.Status = upstream.Status
		unrecoverable.Data = upstream.Data
	}
	coordinator.logger.Warn("token refresh failed",
		zap.String("code", "gateway.refresh.failed"),
		zap.String("login_path", coordinator.loginPath),
		zap.Error(cause))
	return unrecoverable
}
