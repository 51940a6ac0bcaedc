package expiry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jordancrombie/nsim/internal/app/service/engine"
	"github.com/jordancrombie/nsim/internal/repository"
	"github.com/jordancrombie/nsim/pkg/config"
)

// Monitor is the singleton sweep that expires stale authorizations. One scan
// runs at a time; a tick that fires while a scan is still in flight is
// skipped rather than queued.
type Monitor struct {
	eng      engine.Engine
	txRepo   repository.TransactionRepository
	log      *zap.SugaredLogger
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	scanning bool
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewMonitor(eng engine.Engine, txRepo repository.TransactionRepository, cfg *config.Config, log *zap.SugaredLogger) *Monitor {
	interval := cfg.ExpiryScanInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		eng:      eng,
		txRepo:   txRepo,
		log:      log,
		interval: interval,
		now:      time.Now,
	}
}

// Start launches the sweep loop. The first scan runs immediately.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		m.Scan(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Scan(ctx)
			}
		}
	}()
	m.log.Infow("expiry monitor started", "interval", m.interval)
}

// Stop cancels the loop and waits for any in-flight scan to finish.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.log.Infow("expiry monitor stopped")
}

// Scan expires every authorized transaction whose expiry has passed. Each
// transaction is handled sequentially; a failure on one does not stop the
// rest of the batch.
func (m *Monitor) Scan(ctx context.Context) {
	m.mu.Lock()
	if m.scanning {
		m.mu.Unlock()
		return
	}
	m.scanning = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.scanning = false
		m.mu.Unlock()
	}()

	rows, err := m.txRepo.FindExpiredAuthorizations(ctx, m.now().UTC())
	if err != nil {
		m.log.Errorw("expiry scan failed", "err", err)
		return
	}
	if len(rows) == 0 {
		return
	}
	m.log.Infow("expiring stale authorizations", "count", len(rows))
	for _, tx := range rows {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.eng.ExpireAuthorization(ctx, tx.ID); err != nil {
			m.log.Errorw("failed to expire authorization", "transaction_id", tx.ID, "err", err)
		}
	}
}

var Module = fx.Options(
	fx.Provide(NewMonitor),
	fx.Invoke(runMonitor),
)

func runMonitor(lc fx.Lifecycle, m *Monitor) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			m.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			m.Stop()
			return nil
		},
	})
}
