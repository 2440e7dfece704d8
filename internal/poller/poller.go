package poller

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/waplink/internal/config"
	"github.com/smallbiznis/waplink/internal/session/domain"
	"github.com/smallbiznis/waplink/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Poller drives reconciliation in the background so consumer-facing
// reads stay cheap. Consumers poll the registry at a fast cadence; the
// authoritative gateway sweep happens here at the slow cadence.
type Poller struct {
	log      *zap.Logger
	cfg      config.Config
	sessions domain.Service

	cancel context.CancelFunc
	done   chan struct{}
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Sessions domain.Service
}

func New(p Params) *Poller {
	return &Poller{
		log:      p.Log.Named("poller"),
		cfg:      p.Cfg,
		sessions: p.Sessions,
	}
}

func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
}

func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	syncInterval := p.cfg.PollSyncInterval
	if syncInterval <= 0 {
		syncInterval = 30 * time.Second
	}
	listInterval := p.cfg.PollListInterval
	if listInterval <= 0 {
		listInterval = 5 * time.Second
	}

	syncTicker := time.NewTicker(syncInterval)
	defer syncTicker.Stop()
	listTicker := time.NewTicker(listInterval)
	defer listTicker.Stop()

	var cycles sync.WaitGroup
	var cycleCancel context.CancelFunc
	defer func() {
		if cycleCancel != nil {
			cycleCancel()
		}
		cycles.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-listTicker.C:
			p.heartbeat(ctx)
		case <-syncTicker.C:
			// Cycles run off the tick loop so a new tick genuinely
			// cancels a cycle that is still dragging instead of
			// queueing behind it.
			if cycleCancel != nil {
				cycleCancel()
			}
			cycleCtx, cancel := context.WithTimeout(ctx, p.cycleTimeout())
			cycleCancel = cancel
			cycles.Add(1)
			go func() {
				defer cycles.Done()
				defer cancel()
				p.cycle(cycleCtx)
			}()
		}
	}
}

// heartbeat is the cheap registry read at the fast cadence; it touches
// no gateway and exists to surface registry drift in the logs between
// authoritative sweeps.
func (p *Poller) heartbeat(ctx context.Context) {
	scoped := tenantctx.WithScope(ctx, tenantctx.Scope{Privileged: true})
	views, err := p.sessions.List(scoped)
	if err != nil {
		p.log.Warn("registry read failed", zap.Error(err))
		return
	}

	byStatus := map[string]int{}
	for _, v := range views {
		byStatus[string(v.Status)]++
	}
	p.log.Debug("registry heartbeat",
		zap.Int("sessions", len(views)),
		zap.Any("by_status", byStatus))
}

func (p *Poller) cycle(ctx context.Context) {
	scoped := tenantctx.WithScope(ctx, tenantctx.Scope{Privileged: true})
	started := time.Now()

	views, err := p.sessions.Sync(scoped)
	if err != nil {
		p.log.Warn("sync cycle failed", zap.Error(err))
		return
	}
	p.log.Debug("sync cycle complete",
		zap.Int("sessions", len(views)),
		zap.Duration("took", time.Since(started)))
}

func (p *Poller) cycleTimeout() time.Duration {
	if p.cfg.PollCycleTimeout > 0 {
		return p.cfg.PollCycleTimeout
	}
	return 25 * time.Second
}

var Module = fx.Module("poller",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, p *Poller) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				p.Start()
				return nil
			},
			OnStop: func(context.Context) error {
				p.Stop()
				return nil
			},
		})
	}),
)
