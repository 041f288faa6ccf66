package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"minibridge/internal/bus"
	"minibridge/internal/metrics"
	"minibridge/internal/relay"
	"minibridge/internal/state"
)

// backoffFactor scales the poll interval after a failed cycle.
const backoffFactor = 5

// Poller runs the update loop for one account: fetch a batch, process each
// update in order, advance the cursor past the batch, ack, sleep, repeat.
type Poller struct {
	accountID string
	interval  time.Duration
	client    *relay.Client
	injector  *Injector
	cursors   *state.Store
	events    *bus.Bus
	stats     *metrics.Collector
	logger    *slog.Logger
}

// NewPoller creates a Poller. interval is the delay between successful
// cycles; failed cycles wait backoffFactor times longer.
func NewPoller(accountID string, interval time.Duration, client *relay.Client, injector *Injector, cursors *state.Store, events *bus.Bus, stats *metrics.Collector, logger *slog.Logger) *Poller {
	return &Poller{
		accountID: accountID,
		interval:  interval,
		client:    client,
		injector:  injector,
		cursors:   cursors,
		events:    events,
		stats:     stats,
		logger:    logger,
	}
}

// Run polls until ctx is cancelled. The cursor is restored from the state
// store so a restart resumes where the previous run left off.
func (p *Poller) Run(ctx context.Context) {
	offset, err := p.cursors.Cursor(ctx, p.accountID)
	if err != nil {
		p.logger.Warn("cursor restore failed, starting from zero", "account", p.accountID, "err", err)
		offset = 0
	}
	p.logger.Info("poll loop started", "account", p.accountID, "offset", offset, "interval", p.interval)

	for {
		next, cycleErr := p.pollOnce(ctx, offset)
		if ctx.Err() != nil {
			p.logger.Info("poll loop stopped", "account", p.accountID)
			return
		}

		if cycleErr != nil {
			// The cursor holds on failure so nothing is lost; back off
			// hard to avoid hammering a struggling relay.
			p.stats.Inc(metrics.PollErrorsTotal)
			p.events.Emit(bus.EventPollCycleError, p.accountID, map[string]any{"err": cycleErr.Error()})
			p.logger.Error("poll cycle failed", "account", p.accountID, "err", cycleErr)
		} else {
			offset = next
		}

		wait := p.cycleWait(cycleErr != nil)

		if !sleep(ctx, wait) {
			p.logger.Info("poll loop stopped", "account", p.accountID)
			return
		}
	}
}

// cycleWait returns the delay before the next cycle.
func (p *Poller) cycleWait(failed bool) time.Duration {
	if failed {
		return p.interval * backoffFactor
	}
	return p.interval
}

// pollOnce runs one cycle and returns the next offset. Per-update failures
// are contained: the update is counted as failed, the batch continues, and
// the cursor still moves past it. Only a failed fetch aborts the cycle.
func (p *Poller) pollOnce(ctx context.Context, offset int64) (int64, error) {
	start := time.Now()
	updates, err := p.client.GetUpdates(ctx, offset)
	p.stats.Inc(metrics.PollsTotal)
	p.stats.Observe(metrics.PollLatencySeconds, time.Since(start).Seconds())
	if err != nil {
		return offset, err
	}
	if len(updates) == 0 {
		return offset, nil
	}

	ids := make([]int64, 0, len(updates))
	maxID := offset - 1
	for _, u := range updates {
		ids = append(ids, u.UpdateID)
		if u.UpdateID > maxID {
			maxID = u.UpdateID
		}

		parsed := ParseUpdate(u, p.logger)
		if parsed == nil {
			p.stats.Inc(metrics.UpdatesSkipped)
			p.events.Emit(bus.EventUpdateSkipped, p.accountID, map[string]any{"update_id": u.UpdateID})
			continue
		}

		p.stats.Inc(metrics.UpdatesTotal)
		p.events.Emit(bus.EventUpdateReceived, p.accountID, map[string]any{"update_id": u.UpdateID})

		if err := p.injector.Inject(ctx, parsed); err != nil {
			p.stats.Inc(metrics.UpdatesFailed)
			p.events.Emit(bus.EventUpdateFailed, p.accountID, map[string]any{"update_id": u.UpdateID, "err": err.Error()})
			p.logger.Error("update processing failed", "account", p.accountID, "update_id", u.UpdateID, "err", err)
		}
	}

	next := maxID + 1
	if err := p.cursors.SetCursor(ctx, p.accountID, next); err != nil {
		p.logger.Warn("cursor persist failed", "account", p.accountID, "err", err)
	}
	if err := p.client.MarkProcessed(ctx, ids); err != nil {
		p.logger.Warn("mark processed failed", "account", p.accountID, "err", err)
	}
	return next, nil
}

// sleep waits for d or until ctx is cancelled, reporting whether the full
// wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Supervisor owns the poll loop lifecycle per account. Each start bumps a
// generation counter and synchronously tears down the previous instance, so
// at most one loop per account ever runs.
type Supervisor struct {
	mu     sync.Mutex
	active map[string]*instance
	events *bus.Bus
	logger *slog.Logger
}

type instance struct {
	generation int
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewSupervisor creates an empty Supervisor.
func NewSupervisor(events *bus.Bus, logger *slog.Logger) *Supervisor {
	return &Supervisor{active: make(map[string]*instance), events: events, logger: logger}
}

// Start launches a poll loop for an account, stopping any previous instance
// first and waiting for it to exit. It returns the new generation number.
func (s *Supervisor) Start(ctx context.Context, accountID string, p *Poller) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen := 1
	if prev, ok := s.active[accountID]; ok {
		prev.cancel()
		<-prev.done
		s.events.Emit(bus.EventAccountStopped, accountID, map[string]any{"generation": prev.generation})
		gen = prev.generation + 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	inst := &instance{generation: gen, cancel: cancel, done: make(chan struct{})}
	s.active[accountID] = inst

	go func() {
		defer close(inst.done)
		p.Run(runCtx)
	}()

	s.events.Emit(bus.EventAccountStarted, accountID, map[string]any{"generation": gen})
	s.logger.Info("account supervisor started", "account", accountID, "generation", gen)
	return gen
}

// Stop tears down the poll loop for an account and waits for it to exit.
func (s *Supervisor) Stop(accountID string) {
	s.mu.Lock()
	inst, ok := s.active[accountID]
	if ok {
		delete(s.active, accountID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	inst.cancel()
	<-inst.done
	s.events.Emit(bus.EventAccountStopped, accountID, map[string]any{"generation": inst.generation})
	s.logger.Info("account supervisor stopped", "account", accountID, "generation", inst.generation)
}

// StopAll stops every running loop.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	insts := make(map[string]*instance, len(s.active))
	for id, inst := range s.active {
		insts[id] = inst
	}
	s.active = make(map[string]*instance)
	s.mu.Unlock()

	for id, inst := range insts {
		inst.cancel()
		<-inst.done
		s.events.Emit(bus.EventAccountStopped, id, map[string]any{"generation": inst.generation})
		s.logger.Info("account supervisor stopped", "account", id, "generation", inst.generation)
	}
}

// Generation returns the current generation for an account, or 0 when no
// loop is running.
func (s *Supervisor) Generation(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.active[accountID]; ok {
		return inst.generation
	}
	return 0
}
