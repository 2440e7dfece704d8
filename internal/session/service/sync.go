package service

import (
	"context"
	"errors"
	"time"

	providerdomain "github.com/smallbiznis/waplink/internal/provider/domain"
	"github.com/smallbiznis/waplink/internal/session/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const lockTTL = 15 * time.Second

// Sync reconciles every visible session against its gateway. One
// misbehaving gateway must not hide the rest of the fleet, so
// per-session failures are logged and the persisted state is served.
func (s *service) Sync(ctx context.Context) ([]domain.SessionView, error) {
	sessions, err := s.visibleSessions(ctx)
	if err != nil {
		return nil, err
	}

	refreshed := make([]*domain.Session, len(sessions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism())
	for i := range sessions {
		i := i
		session := &sessions[i]
		g.Go(func() error {
			result, err := s.syncOne(gctx, session)
			if err != nil {
				s.log.Warn("sync failed, serving last known state",
					zap.String("session", session.Name),
					zap.String("provider", session.Provider),
					zap.Error(err))
				refreshed[i] = session
				return nil
			}
			refreshed[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	views := make([]domain.SessionView, 0, len(refreshed))
	for _, session := range refreshed {
		if session == nil {
			continue
		}
		views = append(views, *s.view(session))
	}
	return views, nil
}

// syncOne reconciles a single session. Concurrent callers for the same
// name are coalesced in-process; a cross-process advisory lock guards
// replicas. When the lock is held elsewhere the persisted state is
// returned untouched.
func (s *service) syncOne(ctx context.Context, session *domain.Session) (*domain.Session, error) {
	result, err, _ := s.group.Do(session.Name, func() (any, error) {
		return s.reconcile(ctx, session.Name)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Session), nil
}

func (s *service) reconcile(ctx context.Context, name string) (*domain.Session, error) {
	session, err := s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrNotFound
	}

	release, acquired := s.locker.Acquire(ctx, name, lockTTL)
	if !acquired {
		return session, nil
	}
	defer release()

	s.metrics.SyncRuns.WithLabelValues(session.Provider).Inc()
	started := time.Now()
	defer func() {
		s.metrics.SyncDuration.WithLabelValues(session.Provider).Observe(time.Since(started).Seconds())
	}()

	adapter, err := s.adapterFor(ctx, session)
	if err != nil {
		s.metrics.SyncFailures.WithLabelValues(session.Provider, "configuration").Inc()
		return nil, err
	}

	remote, err := adapter.FetchStatus(ctx, name)
	switch {
	case errors.Is(err, providerdomain.ErrRemoteNotFound):
		// The gateway no longer knows this session; the record has
		// drifted and a human has to decide whether to recreate it.
		s.metrics.SyncFailures.WithLabelValues(session.Provider, "drifted").Inc()
		status := providerdomain.StatusFailed
		return s.mergeAndReload(ctx, name, domain.Patch{
			Status:        &status,
			ClearIdentity: true,
			ClearPairing:  true,
		})
	case errors.Is(err, providerdomain.ErrRemoteUnavailable):
		s.metrics.SyncFailures.WithLabelValues(session.Provider, "unavailable").Inc()
		s.log.Warn("gateway unreachable, keeping last known state",
			zap.String("session", name), zap.Error(err))
		return session, nil
	case err != nil:
		s.metrics.SyncFailures.WithLabelValues(session.Provider, "error").Inc()
		return nil, err
	}

	patch := s.buildPatch(ctx, adapter, session, remote)
	return s.mergeAndReload(ctx, name, patch)
}

// buildPatch translates a remote observation into a partial update.
// Only fields the observation actually speaks to are included.
func (s *service) buildPatch(ctx context.Context, adapter providerdomain.Adapter, session *domain.Session, remote *providerdomain.RemoteState) domain.Patch {
	patch := domain.Patch{Status: &remote.Status}

	if remote.ExternalToken != "" && remote.ExternalToken != session.ExternalToken {
		token := remote.ExternalToken
		patch.ExternalToken = &token
	}

	now := s.clock.Now()
	switch remote.Status {
	case providerdomain.StatusConnected:
		if remote.Identity != nil {
			patch.Identity = remote.Identity
		}
		// The pairing artifact was consumed by this link.
		patch.ClearPairing = true

		if session.InteractiveWebhookEnabled && session.WebhookRegisteredAt == nil {
			err := s.retry.Do(ctx, func() error {
				return adapter.RegisterWebhook(ctx, session.Name, s.webhookURL(session.Name), session.WebhookSecret)
			})
			if err != nil {
				s.log.Warn("webhook registration failed, will retry next cycle",
					zap.String("session", session.Name), zap.Error(err))
			} else {
				registered := now
				patch.WebhookRegisteredAt = &registered
			}
		}

	case providerdomain.StatusAwaitingPairing:
		patch.ClearIdentity = true
		if session.CurrentPairing(now) == nil {
			if artifact, err := adapter.FetchPairing(ctx, session.Name); err != nil {
				s.log.Warn("pairing fetch failed",
					zap.String("session", session.Name), zap.Error(err))
			} else if artifact != nil && artifact.Data != "" {
				expires := now.Add(s.cfg.PairingTTL)
				patch.PairingData = &artifact.Data
				patch.PairingExpiresAt = &expires
			}
		}

	default:
		patch.ClearIdentity = true
		patch.ClearPairing = true
	}

	return patch
}

func (s *service) mergeAndReload(ctx context.Context, name string, patch domain.Patch) (*domain.Session, error) {
	ok, err := s.repo.Merge(ctx, s.db, name, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Deleted while we were talking to the gateway.
		return nil, domain.ErrNotFound
	}
	session, err := s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrNotFound
	}
	return session, nil
}

func (s *service) parallelism() int {
	if s.cfg.SyncParallelism > 0 {
		return s.cfg.SyncParallelism
	}
	return 8
}
