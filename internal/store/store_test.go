// ABOUTME: Tests for the SQLite-backed session, state, and credential stores

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.CountSessions(ctx)
	if err != nil {
		t.Fatalf("counting sessions: %v", err)
	}
	if n != 0 {
		t.Errorf("expected empty store, got %d sessions", n)
	}

	sess := &Session{
		UserID:    "user-1",
		Token:     "tok",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if err := s.PutSession(ctx, sess); err != nil {
		t.Fatalf("putting session: %v", err)
	}
	if sess.ID == "" {
		t.Error("expected an ID to be assigned")
	}

	n, err = s.CountSessions(ctx)
	if err != nil {
		t.Fatalf("counting sessions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 session, got %d", n)
	}

	got, err := s.GetSessionByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("getting session: %v", err)
	}
	if got.Token != "tok" {
		t.Errorf("expected token 'tok', got %q", got.Token)
	}

	latest, err := s.LatestSession(ctx)
	if err != nil {
		t.Fatalf("latest session: %v", err)
	}
	if latest.ID != sess.ID {
		t.Errorf("expected latest session %s, got %s", sess.ID, latest.ID)
	}

	if err := s.ClearSessions(ctx); err != nil {
		t.Fatalf("clearing sessions: %v", err)
	}
	if _, err := s.GetSessionByUser(ctx, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after clear, got %v", err)
	}
}

func TestExpiredSessionsAreInvisible(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &Session{
		UserID:    "user-1",
		Token:     "tok",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	if err := s.PutSession(ctx, sess); err != nil {
		t.Fatalf("putting session: %v", err)
	}

	n, err := s.CountSessions(ctx)
	if err != nil {
		t.Fatalf("counting sessions: %v", err)
	}
	if n != 0 {
		t.Errorf("expired session counted, got %d", n)
	}
	if _, err := s.GetSessionByUser(ctx, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired session, got %v", err)
	}
	if _, err := s.LatestSession(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired latest, got %v", err)
	}
}

func TestExtendSessionsSlidesTheWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &Session{
		UserID:    "user-1",
		Token:     "tok",
		ExpiresAt: time.Now().UTC().Add(time.Minute),
	}
	if err := s.PutSession(ctx, sess); err != nil {
		t.Fatalf("putting session: %v", err)
	}

	if err := s.ExtendSessions(ctx, 48*time.Hour); err != nil {
		t.Fatalf("extending sessions: %v", err)
	}

	got, err := s.GetSessionByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("getting session: %v", err)
	}
	if got.ExpiresAt.Before(time.Now().UTC().Add(47 * time.Hour)) {
		t.Errorf("expected expiry pushed ~48h out, got %v", got.ExpiresAt)
	}

	// an already-expired session must not be revived
	stale := &Session{
		UserID:    "user-2",
		Token:     "old",
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	if err := s.PutSession(ctx, stale); err != nil {
		t.Fatalf("putting stale session: %v", err)
	}
	if err := s.ExtendSessions(ctx, 48*time.Hour); err != nil {
		t.Fatalf("extending sessions: %v", err)
	}
	if _, err := s.GetSessionByUser(ctx, "user-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected stale session to stay expired, got %v", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetState(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.SetState(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("setting state: %v", err)
	}
	if err := s.SetState(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("overwriting state: %v", err)
	}

	got, err := s.GetState(ctx, "k")
	if err != nil {
		t.Fatalf("getting state: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("expected v2, got %q", got)
	}

	if err := s.DeleteState(ctx, "k"); err != nil {
		t.Fatalf("deleting state: %v", err)
	}
	if _, err := s.GetState(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// deleting an absent key is quiet
	if err := s.DeleteState(ctx, "k"); err != nil {
		t.Errorf("deleting absent key: %v", err)
	}
}

func TestSessionDurationClamping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// default when unset
	if d := s.SessionDuration(ctx); d != 7*24*time.Hour {
		t.Errorf("expected 7 day default, got %v", d)
	}

	tests := []struct {
		days int
		want time.Duration
	}{
		{7, 7 * 24 * time.Hour},
		{1, 24 * time.Hour},
		{30, 30 * 24 * time.Hour},
		{0, 24 * time.Hour},       // clamped up
		{365, 30 * 24 * time.Hour}, // clamped down
	}
	for _, tt := range tests {
		if err := s.SetSessionDuration(ctx, tt.days); err != nil {
			t.Fatalf("setting duration %d: %v", tt.days, err)
		}
		if d := s.SessionDuration(ctx); d != tt.want {
			t.Errorf("days=%d: expected %v, got %v", tt.days, tt.want, d)
		}
	}

	// garbage in the row falls back to the default
	if err := s.SetState(ctx, StateKeySessionDuration, []byte("soon")); err != nil {
		t.Fatalf("setting garbage: %v", err)
	}
	if d := s.SessionDuration(ctx); d != 7*24*time.Hour {
		t.Errorf("expected default for garbage value, got %v", d)
	}
}

func TestCredentialUniquePerUsername(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cred := &Credential{
		ID:       "cred-1",
		UserID:   "user-1",
		Username: "alice",
		Seed:     []byte{1, 2, 3},
		Public:   []byte{4, 5, 6},
		Attest:   []byte("{}"),
	}
	if err := s.PutCredential(ctx, cred); err != nil {
		t.Fatalf("putting credential: %v", err)
	}

	dup := &Credential{
		ID:       "cred-2",
		UserID:   "user-2",
		Username: "alice",
		Seed:     []byte{7},
		Public:   []byte{8},
		Attest:   []byte("{}"),
	}
	if err := s.PutCredential(ctx, dup); !errors.Is(err, ErrDuplicateCredential) {
		t.Errorf("expected ErrDuplicateCredential, got %v", err)
	}

	got, err := s.GetCredentialByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("getting credential: %v", err)
	}
	if got.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", got.UserID)
	}

	if _, err := s.GetCredentialByUsername(ctx, "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown username, got %v", err)
	}
}

func TestAnyCredentialAndSignCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AnyCredential(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on empty device, got %v", err)
	}

	cred := &Credential{
		ID:       "cred-1",
		UserID:   "user-1",
		Username: "alice",
		Seed:     []byte{1},
		Public:   []byte{2},
		Attest:   []byte("{}"),
	}
	if err := s.PutCredential(ctx, cred); err != nil {
		t.Fatalf("putting credential: %v", err)
	}

	any, err := s.AnyCredential(ctx)
	if err != nil {
		t.Fatalf("any credential: %v", err)
	}
	if any.Username != "alice" {
		t.Errorf("expected alice, got %s", any.Username)
	}

	if err := s.BumpSignCount(ctx, "cred-1"); err != nil {
		t.Fatalf("bumping sign count: %v", err)
	}
	if err := s.BumpSignCount(ctx, "cred-1"); err != nil {
		t.Fatalf("bumping sign count: %v", err)
	}

	got, err := s.GetCredentialByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("getting credential: %v", err)
	}
	if got.SignCount != 2 {
		t.Errorf("expected sign count 2, got %d", got.SignCount)
	}
}
