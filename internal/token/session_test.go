package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaiso/marketagent/internal/telemetry"
)

type fakeRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	fresh   Credentials
	err     error
}

func (f *fakeRefresher) RefreshToken(ctx context.Context, refreshToken string) (Credentials, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return Credentials{}, ctx.Err()
		}
	}
	if f.err != nil {
		return Credentials{}, f.err
	}
	return f.fresh, nil
}

func newTestSession(t *testing.T, store Store, refresher Refresher) *Session {
	t.Helper()
	return NewSession(SessionConfig{
		Store:     store,
		Refresher: refresher,
		Validator: NewValidator(WithClock(fixedClock)),
		Logger:    telemetry.Discard(),
		Metrics:   telemetry.NewMetrics(nil),
	})
}

func TestSession_ValidTokenReturnedWithoutRefresh(t *testing.T) {
	access := tokenExpiringIn(t, time.Hour)
	refresher := &fakeRefresher{}
	s := newTestSession(t, NewMemoryStore(Credentials{AccessToken: access, RefreshToken: "r-1"}), refresher)

	got, err := s.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != access {
		t.Error("expected stored token to be returned")
	}
	if refresher.calls.Load() != 0 {
		t.Errorf("expected no refresh, got %d", refresher.calls.Load())
	}
}

func TestSession_ExpiredTokenIsRefreshed(t *testing.T) {
	fresh := tokenExpiringIn(t, time.Hour)
	store := NewMemoryStore(Credentials{AccessToken: tokenExpiringIn(t, -time.Minute), RefreshToken: "r-1", User: []byte(`{"name":"Léa"}`)})
	refresher := &fakeRefresher{fresh: Credentials{AccessToken: fresh}}
	s := newTestSession(t, store, refresher)

	got, err := s.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != fresh {
		t.Error("expected refreshed token")
	}

	saved, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if saved.AccessToken != fresh {
		t.Error("refreshed token should be persisted")
	}
	if saved.RefreshToken != "r-1" {
		t.Errorf("refresh token should be kept when not rotated, got %q", saved.RefreshToken)
	}
	if string(saved.User) != `{"name":"Léa"}` {
		t.Errorf("user data should be kept, got %s", saved.User)
	}
}

func TestSession_ConcurrentCallersShareOneRefresh(t *testing.T) {
	fresh := tokenExpiringIn(t, time.Hour)
	refresher := &fakeRefresher{
		release: make(chan struct{}),
		fresh:   Credentials{AccessToken: fresh, RefreshToken: "r-2"},
	}
	s := newTestSession(t, NewMemoryStore(Credentials{AccessToken: "", RefreshToken: "r-1"}), refresher)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.AccessToken(context.Background())
		}(i)
	}

	// Даём всем вызывающим дойти до ожидания общего refresh
	time.Sleep(50 * time.Millisecond)
	close(refresher.release)
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if results[i] != fresh {
			t.Errorf("caller %d: expected fresh token", i)
		}
	}
	if n := refresher.calls.Load(); n != 1 {
		t.Errorf("expected exactly 1 refresh request, got %d", n)
	}
}

func TestSession_RejectedRefreshClearsCredentials(t *testing.T) {
	store := NewMemoryStore(Credentials{AccessToken: tokenExpiringIn(t, -time.Minute), RefreshToken: "revoked"})
	refresher := &fakeRefresher{err: fmt.Errorf("backend: %w", ErrRefreshRejected)}
	s := newTestSession(t, store, refresher)

	_, err := s.AccessToken(context.Background())
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if !errors.Is(err, ErrRefreshRejected) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}

	if _, err := store.Load(context.Background()); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("store should be cleared, got %v", err)
	}

	// Последующие вызовы не ходят в backend
	if _, err := s.AccessToken(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated after clear, got %v", err)
	}
	if n := refresher.calls.Load(); n != 1 {
		t.Errorf("expected 1 refresh call, got %d", n)
	}
}

func TestSession_ProactiveRefreshFailureKeepsCurrentToken(t *testing.T) {
	expiring := tokenExpiringIn(t, 2*time.Minute)
	refresher := &fakeRefresher{err: errors.New("connection refused")}
	s := newTestSession(t, NewMemoryStore(Credentials{AccessToken: expiring, RefreshToken: "r-1"}), refresher)

	got, err := s.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("still-valid token should be used when refresh fails: %v", err)
	}
	if got != expiring {
		t.Error("expected current token")
	}
	if refresher.calls.Load() != 1 {
		t.Errorf("expected a proactive refresh attempt, got %d", refresher.calls.Load())
	}
}

func TestSession_ExpiredTokenAndTransientFailure(t *testing.T) {
	refresher := &fakeRefresher{err: errors.New("connection refused")}
	store := NewMemoryStore(Credentials{AccessToken: tokenExpiringIn(t, -time.Minute), RefreshToken: "r-1"})
	s := newTestSession(t, store, refresher)

	_, err := s.AccessToken(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrUnauthenticated) {
		t.Error("transient failure should not be reported as unauthenticated")
	}
	if _, err := store.Load(context.Background()); err != nil {
		t.Error("credentials must survive a transient refresh failure")
	}
}

func TestSession_NoCredentials(t *testing.T) {
	s := newTestSession(t, NewMemoryStore(Credentials{}), &fakeRefresher{})

	if _, err := s.AccessToken(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
	if st := s.Status(context.Background()); st.Authenticated {
		t.Error("status should report unauthenticated")
	}
}

func TestSession_InvalidateForcesRefresh(t *testing.T) {
	fresh := tokenExpiringIn(t, 2*time.Hour)
	refresher := &fakeRefresher{fresh: Credentials{AccessToken: fresh}}
	s := newTestSession(t, NewMemoryStore(Credentials{AccessToken: tokenExpiringIn(t, time.Hour), RefreshToken: "r-1"}), refresher)

	if _, err := s.AccessToken(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Invalidate()

	got, err := s.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != fresh {
		t.Error("expected refreshed token after invalidation")
	}
	if refresher.calls.Load() != 1 {
		t.Errorf("expected 1 refresh, got %d", refresher.calls.Load())
	}
}

func TestSession_Status(t *testing.T) {
	access := makeToken(t, map[string]any{"user_id": "u-9", "role": "seller", "exp": fixedNow.Add(3 * time.Minute).Unix()})
	s := newTestSession(t, NewMemoryStore(Credentials{AccessToken: access, RefreshToken: "r"}), nil)

	st := s.Status(context.Background())
	if !st.Authenticated || st.UserID != "u-9" || st.Role != "seller" {
		t.Errorf("unexpected status: %+v", st)
	}
	if !st.ExpiringSoon || st.ExpiresIn != "3m 0s" || !st.HasRefresh {
		t.Errorf("unexpected expiry info: %+v", st)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(Credentials{})

	if _, err := store.Load(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
	if err := store.Save(ctx, Credentials{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil || got.AccessToken != "a" || got.RefreshToken != "r" {
		t.Fatalf("unexpected load: %+v, %v", got, err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials after clear, got %v", err)
	}
}

