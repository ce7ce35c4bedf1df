// mfa_attempt_pruner.go implements the MfaAttemptPruner background job, which
// deletes MFA attempts past their expiry. Expired attempts are already inert
// (token verification rejects them); pruning only reclaims storage. The same
// sweep removes expired personal access tokens.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/one-account/one-account-api/internal/config"
	"github.com/one-account/one-account-api/internal/telemetry"
)

// ExpiredDeleter deletes rows whose expiry is before now
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// MfaAttemptPruner periodically deletes expired MFA attempts and access tokens
type MfaAttemptPruner struct {
	attempts ExpiredDeleter
	tokens   ExpiredDeleter
	enabled  bool
	interval time.Duration
	stopChan chan struct{}
	now      func() time.Time
}

// NewMfaAttemptPruner creates a new MfaAttemptPruner. tokens may be nil.
func NewMfaAttemptPruner(attempts, tokens ExpiredDeleter, cfg *config.JobsConfig) *MfaAttemptPruner {
	minutes := cfg.MfaAttemptPruneIntervalMinutes
	if minutes <= 0 {
		minutes = 60
	}
	return &MfaAttemptPruner{
		attempts: attempts,
		tokens:   tokens,
		enabled:  cfg.MfaAttemptPruneEnabled,
		interval: time.Duration(minutes) * time.Minute,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start runs a prune immediately and then on every interval until ctx is
// cancelled or Stop is called.
func (p *MfaAttemptPruner) Start(ctx context.Context) {
	if !p.enabled {
		log.Println("MFA attempt pruner: disabled (jobs.mfa_attempt_prune_enabled=false)")
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Printf("MFA attempt pruner started (interval: %v)", p.interval)

	p.runPrune(ctx)

	for {
		select {
		case <-ticker.C:
			p.runPrune(ctx)
		case <-p.stopChan:
			log.Println("MFA attempt pruner stopped")
			return
		case <-ctx.Done():
			log.Println("MFA attempt pruner context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (p *MfaAttemptPruner) Stop() {
	close(p.stopChan)
}

func (p *MfaAttemptPruner) runPrune(ctx context.Context) {
	attempts, tokens, err := p.PruneOnce(ctx)
	if err != nil {
		log.Printf("MFA attempt pruner: %v", err)
	}
	if attempts > 0 || tokens > 0 {
		log.Printf("MFA attempt pruner: deleted %d expired attempt(s) and %d expired token(s)", attempts, tokens)
	}
}

// PruneOnce deletes everything expired as of now and reports the counts
func (p *MfaAttemptPruner) PruneOnce(ctx context.Context) (attempts, tokens int64, err error) {
	now := p.now()

	attempts, err = p.attempts.DeleteExpired(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete expired mfa attempts: %w", err)
	}
	telemetry.MfaAttemptsPrunedTotal.Add(float64(attempts))

	if p.tokens != nil {
		tokens, err = p.tokens.DeleteExpired(ctx, now)
		if err != nil {
			return attempts, 0, fmt.Errorf("failed to delete expired access tokens: %w", err)
		}
	}
	return attempts, tokens, nil
}
