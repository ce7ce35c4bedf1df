package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/one-account/one-account-api/internal/config"
)

type fakeDeleter struct {
	n      int64
	err    error
	called time.Time
}

func (f *fakeDeleter) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.called = now
	return f.n, f.err
}

func TestNewMfaAttemptPruner_DefaultInterval(t *testing.T) {
	p := NewMfaAttemptPruner(&fakeDeleter{}, nil, &config.JobsConfig{MfaAttemptPruneEnabled: true})
	if p.interval != time.Hour {
		t.Errorf("interval = %v, want 1h", p.interval)
	}
}

func TestMfaAttemptPruner_PruneOnce(t *testing.T) {
	attempts := &fakeDeleter{n: 3}
	tokens := &fakeDeleter{n: 2}
	p := NewMfaAttemptPruner(attempts, tokens, &config.JobsConfig{MfaAttemptPruneEnabled: true})
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	a, tk, err := p.PruneOnce(context.Background())
	if err != nil {
		t.Fatalf("PruneOnce() error: %v", err)
	}
	if a != 3 || tk != 2 {
		t.Errorf("PruneOnce() = (%d, %d), want (3, 2)", a, tk)
	}
	if !attempts.called.Equal(fixed) || !tokens.called.Equal(fixed) {
		t.Error("both deleters should see the same cutoff")
	}
}

func TestMfaAttemptPruner_PruneOnce_AttemptError(t *testing.T) {
	tokens := &fakeDeleter{}
	p := NewMfaAttemptPruner(&fakeDeleter{err: errors.New("db down")}, tokens, &config.JobsConfig{})

	if _, _, err := p.PruneOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !tokens.called.IsZero() {
		t.Error("token prune should not run after an attempt prune failure")
	}
}

func TestMfaAttemptPruner_PruneOnce_NoTokenStore(t *testing.T) {
	p := NewMfaAttemptPruner(&fakeDeleter{n: 1}, nil, &config.JobsConfig{})
	a, tk, err := p.PruneOnce(context.Background())
	if err != nil || a != 1 || tk != 0 {
		t.Errorf("PruneOnce() = (%d, %d, %v)", a, tk, err)
	}
}

func TestMfaAttemptPruner_Start_Disabled(t *testing.T) {
	attempts := &fakeDeleter{}
	p := NewMfaAttemptPruner(attempts, nil, &config.JobsConfig{MfaAttemptPruneEnabled: false})

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return when disabled")
	}
	if !attempts.called.IsZero() {
		t.Error("disabled pruner should not delete anything")
	}
}

func TestMfaAttemptPruner_Start_StopReturns(t *testing.T) {
	p := NewMfaAttemptPruner(&fakeDeleter{}, nil, &config.JobsConfig{MfaAttemptPruneEnabled: true})

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
