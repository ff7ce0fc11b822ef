package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Runner executes one request.
type Runner interface {
	Run(ctx context.Context, requestID string) error
}

// PoolConfig sizes a Pool.
type PoolConfig struct {
	Workers       int
	QueueSize     int
	SweepInterval time.Duration
}

// DefaultPoolConfig returns 4 workers over a 64-slot queue, swept every 10s.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: 4, QueueSize: 64, SweepInterval: 10 * time.Second}
}

// PoolStats is a point-in-time view of pool occupancy.
type PoolStats struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

// Pool runs requests on a fixed set of workers, detached from whoever
// submitted them. Requests that do not fit in the queue stay pending and
// are picked up by the sweeper.
type Pool struct {
	runner Runner
	store  store.RequestStore
	cfg    PoolConfig
	queue  chan string

	mu      sync.Mutex
	queued  map[string]struct{}
	running map[string]context.CancelFunc

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewPool creates a Pool. Call Start to launch workers.
func NewPool(runner Runner, st store.RequestStore, cfg PoolConfig) *Pool {
	def := DefaultPoolConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	return &Pool{
		runner:  runner,
		store:   st,
		cfg:     cfg,
		queue:   make(chan string, cfg.QueueSize),
		queued:  make(map[string]struct{}),
		running: make(map[string]context.CancelFunc),
	}
}

// Start launches the workers and the sweeper. ctx bounds the pool's life;
// Stop also ends it.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)

	for i := range p.cfg.Workers {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.wg.Add(1)
	go p.sweeper()
	zap.L().Info("pipeline: pool started",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_size", p.cfg.QueueSize),
	)
}

// Stop cancels in-flight runs and waits for workers to exit. Interrupted
// rows stay processing until the next Recover.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
	zap.L().Info("pipeline: pool stopped")
}

// Enqueue schedules requestID without blocking. It returns false when the
// queue is full or the id is already queued or running.
func (p *Pool) Enqueue(requestID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.queued[requestID]; ok {
		return false
	}
	if _, ok := p.running[requestID]; ok {
		return false
	}
	select {
	case p.queue <- requestID:
		p.queued[requestID] = struct{}{}
		return true
	default:
		zap.L().Warn("pipeline: queue full, leaving request pending", zap.String("request_id", requestID))
		return false
	}
}

// Cancel stops requestID's run if one is in flight. Queued runs find the
// row cancelled and skip themselves.
func (p *Pool) Cancel(requestID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.running[requestID]
	if ok {
		cancel()
	}
	return ok
}

// Stats reports queue and worker occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Queued: len(p.queued), Running: len(p.running)}
}

// Recover prepares the store after a restart: processing rows were
// interrupted and are failed, keeping partial results; pending rows are
// enqueued. Call before Start.
func (p *Pool) Recover(ctx context.Context) error {
	failed := 0
	for {
		rows, err := p.store.ListRequests(ctx, store.RequestFilter{Status: model.RequestStatusProcessing, OldestFirst: true})
		if err != nil {
			return eris.Wrap(err, "pipeline: list interrupted requests")
		}
		progressed := false
		for _, r := range rows {
			p.mu.Lock()
			_, live := p.running[r.ID]
			p.mu.Unlock()
			if live {
				continue
			}
			detail := fmt.Sprintf("%s: run interrupted during %s", model.ErrorWorkerInterrupted, stageName(r.Stage))
			err := p.store.TransitionStatus(ctx, r.ID, model.RequestStatusFailed, detail)
			if err != nil && !errors.Is(err, store.ErrInvalidTransition) {
				return eris.Wrapf(err, "pipeline: fail interrupted request %s", r.ID)
			}
			failed++
			progressed = true
		}
		if !progressed {
			break
		}
	}

	queued, err := p.Sweep(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("pipeline: recovered", zap.Int("interrupted", failed), zap.Int("requeued", queued))
	return nil
}

// Sweep enqueues pending rows, oldest first, while the queue has room.
func (p *Pool) Sweep(ctx context.Context) (int, error) {
	room := cap(p.queue) - len(p.queue)
	if room <= 0 {
		return 0, nil
	}
	// Rows already queued or running are still pending and would crowd out
	// rows that are not.
	stats := p.Stats()
	limit := min(room+stats.Queued+stats.Running, store.MaxListLimit)
	rows, err := p.store.ListRequests(ctx, store.RequestFilter{
		Status:      model.RequestStatusPending,
		OldestFirst: true,
		Limit:       limit,
	})
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: list pending requests")
	}
	n := 0
	for _, r := range rows {
		if n >= room {
			break
		}
		if p.Enqueue(r.ID) {
			n++
		}
	}
	return n, nil
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case id := <-p.queue:
			p.run(n, id)
		}
	}
}

func (p *Pool) run(worker int, id string) {
	runCtx, cancel := context.WithCancel(p.ctx)
	p.mu.Lock()
	delete(p.queued, id)
	p.running[id] = cancel
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.running, id)
		p.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("pipeline: run panicked", zap.String("request_id", id), zap.Any("panic", r), zap.Stack("stack"))
			detail := fmt.Sprintf("%s: panic: %v", model.ErrorWorkerInterrupted, r)
			if err := p.store.TransitionStatus(context.WithoutCancel(runCtx), id, model.RequestStatusFailed, detail); err != nil {
				zap.L().Error("pipeline: could not fail panicked run", zap.String("request_id", id), zap.Error(err))
			}
		}
	}()

	if err := p.runner.Run(runCtx, id); err != nil {
		zap.L().Error("pipeline: run failed", zap.Int("worker", worker), zap.String("request_id", id), zap.Error(err))
	}
}

func (p *Pool) sweeper() {
	defer p.wg.Done()
	t := time.NewTicker(p.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-t.C:
			if n, err := p.Sweep(p.ctx); err != nil {
				if p.ctx.Err() == nil {
					zap.L().Warn("pipeline: sweep failed", zap.Error(err))
				}
			} else if n > 0 {
				zap.L().Debug("pipeline: sweep requeued", zap.Int("count", n))
			}
		}
	}
}

func stageName(s model.Stage) string {
	if s == "" {
		return "startup"
	}
	return string(s)
}
