package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"StooqSync/internal/collector"
	"StooqSync/internal/model"
	"StooqSync/internal/notifier"
	"StooqSync/internal/recorder"
	"StooqSync/internal/syncer"
)

const (
	DefaultCooldownInitial = 30 * time.Minute
	DefaultCooldownMax     = 24 * time.Hour

	alertRetries = 3
)

// Options tune failure handling.
type Options struct {
	// AbortOnSymbolError ends the cycle at the first failed symbol.
	AbortOnSymbolError bool
	CooldownInitial    time.Duration
	CooldownMax        time.Duration
}

// journal is implemented by recorders that can report the last stored outcome
// of a series.
type journal interface {
	LastSymbolEvent(symbol string, period int) (*recorder.SymbolEvent, error)
}

type cooldown struct {
	backoff *backoff.ExponentialBackOff
	until   time.Time
}

// Scheduler runs sync cycles on an epoch-aligned cadence.
type Scheduler struct {
	Cron     *cron.Cron
	Syncer   *syncer.Syncer
	Targets  []syncer.Target
	Recorder recorder.Recorder
	Notifier notifier.Alerter
	Schedule EverySchedule
	Options  Options
	// Now is the clock used for cool-downs and the journal.
	Now func() time.Time

	job    cron.Job
	ctx    context.Context
	cancel context.CancelFunc
	fatal  chan error
	// runs tracks cycles started outside cron so Stop can wait for them.
	runs sync.WaitGroup
	busy atomic.Bool

	mu        sync.Mutex
	state     State
	next      time.Time
	cooldowns map[string]*cooldown
	status    map[string]notifier.StatusLine
}

// NewScheduler creates a Scheduler that runs every updateMinutes.
func NewScheduler(s *syncer.Syncer, targets []syncer.Target, rec recorder.Recorder, alerter notifier.Alerter, updateMinutes int, opts Options) *Scheduler {
	if opts.CooldownInitial <= 0 {
		opts.CooldownInitial = DefaultCooldownInitial
	}
	if opts.CooldownMax < opts.CooldownInitial {
		opts.CooldownMax = max(DefaultCooldownMax, opts.CooldownInitial)
	}
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	if alerter == nil {
		alerter = notifier.NoopAlerter{}
	}

	logger := cron.PrintfLogger(log.StandardLogger())
	sched := &Scheduler{
		Cron:      cron.New(cron.WithLocation(time.UTC), cron.WithLogger(logger)),
		Syncer:    s,
		Targets:   targets,
		Recorder:  rec,
		Notifier:  alerter,
		Schedule:  EverySchedule{Minutes: updateMinutes},
		Options:   opts,
		Now:       time.Now,
		ctx:       context.Background(),
		fatal:     make(chan error, 1),
		cooldowns: make(map[string]*cooldown),
		status:    make(map[string]notifier.StatusLine),
	}
	sched.job = cron.NewChain(cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(sched.runCycle))
	s.OnStage = sched.onStage
	sched.restoreStatus()
	return sched
}

// restoreStatus seeds /status from the journal so a restart does not show
// every series as pending.
func (s *Scheduler) restoreStatus() {
	j, ok := s.Recorder.(journal)
	if !ok {
		return
	}
	for _, t := range s.Targets {
		evt, err := j.LastSymbolEvent(t.Symbol.Symbol, int(t.Symbol.Period))
		if err != nil {
			log.Warnf("read journal for %s: %v", t.Symbol.Symbol, err)
			continue
		}
		if evt == nil {
			continue
		}
		s.status[statusKey(t.Symbol)] = notifier.StatusLine{
			Symbol: t.Symbol.Symbol, Period: t.Symbol.Period.String(), Outcome: evt.Outcome,
		}
	}
}

// Start runs a cycle immediately and then on every cadence boundary.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.Cron.Schedule(s.Schedule, s.job)
	s.Cron.Start()
	log.Infof("scheduler started, update period %d min", s.Schedule.Minutes)
	s.launch()
}

// Stop cancels the running cycle and waits for it to return, whether cron or
// Start/Trigger launched it.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.Cron.Stop().Done()
	s.runs.Wait()
	log.Info("scheduler stopped")
}

// Trigger runs a cycle now. It returns false when a cycle is already running.
func (s *Scheduler) Trigger() bool {
	if s.busy.Load() {
		return false
	}
	s.launch()
	return true
}

func (s *Scheduler) launch() {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.job.Run()
	}()
}

// Running reports whether a cycle is in progress.
func (s *Scheduler) Running() bool { return s.busy.Load() }

// Fatal delivers the error that must stop the process.
func (s *Scheduler) Fatal() <-chan error { return s.fatal }

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Next returns the start of the next planned cycle, zero before the first one completes.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// IsFatal reports whether err must terminate the process rather than be retried.
func IsFatal(err error) bool {
	return errors.Is(err, syncer.ErrPersist) || errors.Is(err, collector.ErrTransportInit)
}

func (s *Scheduler) runCycle() {
	err := s.RunOnce(s.ctx)
	switch {
	case err == nil:
	case IsFatal(err):
		log.Errorf("fatal: %v", err)
		s.alert(notifier.FormatFatal(err))
		select {
		case s.fatal <- err:
		default:
		}
	case errors.Is(err, context.Canceled):
		log.Info("update cancelled")
	default:
		log.Errorf("update aborted: %v", err)
	}
}

// RunOnce runs one cycle over all targets. It returns an error only when the
// cycle was cut short: a fatal error, an abort in all-or-nothing mode, or ctx.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.busy.Store(true)
	defer s.busy.Store(false)
	cycleID := uuid.NewString()
	started := s.now()
	log.WithField("cycle", cycleID).Info("update start")

	var runErr error
	failed := 0
	for _, t := range s.Targets {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		err := s.syncTarget(ctx, cycleID, t)
		if err == nil {
			continue
		}
		failed++
		if IsFatal(err) || s.Options.AbortOnSymbolError || errors.Is(err, context.Canceled) {
			runErr = err
			break
		}
	}

	finished := s.now()
	next := s.Schedule.Next(finished)
	s.mu.Lock()
	s.state = StateSleeping
	s.next = next
	s.mu.Unlock()

	log.Infof("update completed %s", finished.UTC().Format(time.DateTime))
	log.Infof("next update %s", next.UTC().Format(time.DateTime))
	if err := s.Recorder.RecordCycle(&recorder.CycleEvent{
		ID: cycleID, StartedAt: started, FinishedAt: finished,
		Symbols: len(s.Targets), Failed: failed, NextRun: next,
	}); err != nil {
		log.Errorf("record cycle: %v", err)
	}
	return runErr
}

func (s *Scheduler) syncTarget(ctx context.Context, cycleID string, t syncer.Target) error {
	sym := t.Symbol
	evt := &recorder.SymbolEvent{CycleID: cycleID, Symbol: sym.Symbol, Period: int(sym.Period)}

	if until, ok := s.coolingUntil(sym.Symbol); ok {
		log.WithFields(log.Fields{"symbol": sym.Symbol, "until": until.UTC().Format(time.DateTime)}).
			Warn("symbol cooling down, skipped")
		evt.Outcome = "COOLDOWN"
		evt.ErrKind = collector.KindWaitingPeriod.String()
		evt.Error = collector.ErrWaitingPeriod.Error()
		s.record(evt)
		s.setStatus(sym, "COOLDOWN", time.Time{}, until)
		return nil
	}

	rep, err := s.Syncer.SyncSymbol(ctx, t)
	s.setState(StateIdle)
	evt.From, evt.To = rep.From, rep.To
	evt.Fetched, evt.Stored = rep.Fetched, rep.Stored
	evt.Added, evt.Updated = rep.Applied.Added, rep.Applied.Updated
	evt.Gaps = len(rep.Gaps)

	if err != nil {
		evt.Outcome = "FAILED"
		evt.ErrKind = collector.KindOf(err).String()
		if errors.Is(err, syncer.ErrPersist) {
			evt.ErrKind = "persist"
		}
		evt.Error = err.Error()
		s.record(evt)
		log.WithFields(log.Fields{"symbol": sym.Symbol, "kind": evt.ErrKind}).Errorf("sync failed: %v", err)

		if collector.Throttled(err) {
			until := s.startCooldown(sym.Symbol, err)
			s.alert(notifier.FormatCooldown(sym.Symbol, evt.ErrKind, until))
			s.setStatus(sym, "COOLDOWN", time.Time{}, until)
		} else {
			s.setStatus(sym, "FAILED", time.Time{}, time.Time{})
		}
		return err
	}

	s.clearCooldown(sym.Symbol)
	evt.Outcome = "OK"
	if rep.NoData {
		evt.Outcome = "NO_DATA"
	}
	s.record(evt)
	s.setStatus(sym, evt.Outcome, rep.Last, time.Time{})
	return nil
}

func (s *Scheduler) coolingUntil(symbol string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cooldowns[symbol]
	if !ok || c.until.IsZero() || !s.now().Before(c.until) {
		return time.Time{}, false
	}
	return c.until, true
}

// startCooldown pauses symbol for the next backoff interval, never shorter than
// the provider's Retry-After.
func (s *Scheduler) startCooldown(symbol string, err error) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cooldowns[symbol]
	if !ok {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = s.Options.CooldownInitial
		b.MaxInterval = s.Options.CooldownMax
		b.Multiplier = 2
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Reset()
		c = &cooldown{backoff: b}
		s.cooldowns[symbol] = c
	}
	wait := c.backoff.NextBackOff()
	if ra := collector.RetryAfterOf(err); ra > wait {
		wait = ra
	}
	c.until = s.now().Add(wait)
	log.WithFields(log.Fields{"symbol": symbol, "kind": collector.KindOf(err).String()}).Warnf("cooling down for %s", wait)
	return c.until
}

func (s *Scheduler) clearCooldown(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cooldowns, symbol)
}

func (s *Scheduler) onStage(_ string, st syncer.Stage) {
	switch st {
	case syncer.StageFetching:
		s.setState(StateFetching)
	case syncer.StageMerging:
		s.setState(StateMerging)
	case syncer.StagePersisting:
		s.setState(StatePersisting)
	}
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// statusKey identifies one configured series; a ticker may be listed at several periods.
func statusKey(sym model.SymbolConfig) string {
	return sym.Symbol + " " + sym.Period.String()
}

func (s *Scheduler) setStatus(sym model.SymbolConfig, outcome string, last, cooldown time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := statusKey(sym)
	line := s.status[key]
	line.Symbol, line.Period, line.Outcome, line.Cooldown = sym.Symbol, sym.Period.String(), outcome, cooldown
	if !last.IsZero() {
		line.LastBar = last
	}
	s.status[key] = line
}

func (s *Scheduler) record(evt *recorder.SymbolEvent) {
	if err := s.Recorder.RecordSymbol(evt); err != nil {
		log.Errorf("record symbol %s: %v", evt.Symbol, err)
	}
}

func (s *Scheduler) alert(text string) {
	if err := s.Notifier.SendWithRetry(s.ctx, text, alertRetries); err != nil {
		log.Errorf("send notification: %v", err)
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// HandleCommand processes an operator command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	switch command {
	case "/status":
		s.mu.Lock()
		lines := make([]notifier.StatusLine, 0, len(s.Targets))
		for _, t := range s.Targets {
			line, ok := s.status[statusKey(t.Symbol)]
			if !ok {
				line = notifier.StatusLine{Symbol: t.Symbol.Symbol, Period: t.Symbol.Period.String(), Outcome: "PENDING"}
			}
			lines = append(lines, line)
		}
		next := s.next
		s.mu.Unlock()
		return notifier.FormatStatus(lines, next)
	case "/update":
		if !s.Trigger() {
			return fmt.Sprintf("an update is already running (state %s)", s.State())
		}
		return "update triggered"
	default:
		return "commands:\n• /status\n• /update"
	}
}
