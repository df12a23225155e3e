package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/tyemirov/clinicgate/internal/metrics"
	"github.com/tyemirov/clinicgate/pkg/credentials"
	"go.uber.org/zap/zaptest"
)

func TestQueuedWaitersKeepEnqueueOrderAndShareOutcome(t *testing.T) {
	const waiterCount = 4
	store := credentials.NewMemoryStore()
	ctx := context.Background()
	_ = store.SetPair(ctx, credentials.Pair{AccessToken: "expired", RefreshToken: "refresh-1"})

	exchangeStarted := make(chan struct{})
	releaseExchange := make(chan struct{})
	recorder := metrics.NewCounterMetrics()
	coordinator := &refreshCoordinator{
		store: store,
		exchange: func(ctx context.Context, refreshToken string) (credentials.Pair, error) {
			close(exchangeStarted)
			<-releaseExchange
			return credentials.Pair{AccessToken: "fresh-access", RefreshToken: "fresh-refresh"}, nil
		},
		loginPath: DefaultLoginPath,
		logger:    zaptest.NewLogger(t),
		metrics:   recorder,
	}

	type result struct {
		token string
		err   error
	}
	leaderResult := make(chan result, 1)
	go func() {
		token, err := coordinator.acquire(ctx, "expired")
		leaderResult <- result{token: token, err: err}
	}()
	select {
	case <-exchangeStarted:
	case <-time.After(5 * time.Second):
		t.Fatalf("exchange never started")
	}

	waiterResults := make([]chan result, waiterCount)
	var enqueued []chan refreshOutcome
	for index := 0; index < waiterCount; index++ {
		waiterResults[index] = make(chan result, 1)
		go func(results chan result) {
			token, err := coordinator.acquire(ctx, "expired")
			results <- result{token: token, err: err}
		}(waiterResults[index])

		deadline := time.Now().Add(5 * time.Second)
		var snapshot []chan refreshOutcome
		for {
			coordinator.mutex.Lock()
			snapshot = append([]chan refreshOutcome(nil), coordinator.pending...)
			coordinator.mutex.Unlock()
			if len(snapshot) == index+1 || time.Now().After(deadline) {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		if len(snapshot) != index+1 {
			close(releaseExchange)
			t.Fatalf("expected %d queued waiters, got %d", index+1, len(snapshot))
		}
		for position, waiter := range enqueued {
			if snapshot[position] != waiter {
				close(releaseExchange)
				t.Fatalf("waiter %d moved after enqueue %d", position, index)
			}
		}
		enqueued = snapshot
	}

	close(releaseExchange)
	for index, results := range append([]chan result{leaderResult}, waiterResults...) {
		select {
		case outcome := <-results:
			if outcome.err != nil || outcome.token != "fresh-access" {
				t.Fatalf("request %d: expected fresh-access, got %q (%v)", index, outcome.token, outcome.err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("request %d never completed", index)
		}
	}
	if recorder.Count(eventRefreshStarted) != 1 {
		t.Fatalf("expected one refresh, got %d", recorder.Count(eventRefreshStarted))
	}
	if recorder.Count(eventRefreshQueued) != waiterCount {
		t.Fatalf("expected %d queued, got %d", waiterCount, recorder.Count(eventRefreshQueued))
	}
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	if coordinator.inProgress || len(coordinator.pending) != 0 {
		t.Fatalf("expected coordinator to be idle after the refresh settled")
	}
}
