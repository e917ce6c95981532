package reminder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/stellarlinkco/linkkeeper/internal/store"
	"github.com/stellarlinkco/linkkeeper/internal/task"
)

const (
	DefaultInterval      = time.Minute
	DefaultNotifyTimeout = 15 * time.Second
	DefaultMaxAttempts   = 5
)

// State is the scheduler loop's lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateScanning    State = "scanning"
	StateDispatching State = "dispatching"
	StateStopped     State = "stopped"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

// Notifier delivers text to an owner.
type Notifier interface {
	Send(ctx context.Context, ownerID, text string) error
}

// TaskStore is what the loop needs from task persistence.
type TaskStore interface {
	ListAll() ([]*task.Task, error)
	Update(id string, fn func(*task.Task) error) (*task.Task, error)
}

// Ledger is the write-through notification ledger.
type Ledger interface {
	LedgerView
	Load() error
	MarkSent(key store.LedgerKey, at time.Time) (store.LedgerEntry, error)
	RecordFailure(key store.LedgerKey, cause error, at time.Time, maxAttempts int) (store.LedgerEntry, error)
}

// TickStore persists the end of the last completed tick.
type TickStore interface {
	LastTick() (time.Time, bool, error)
	SetLastTick(t time.Time) error
}

type Options struct {
	Interval      time.Duration
	NotifyTimeout time.Duration
	MaxAttempts   int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = DefaultNotifyTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return o
}

// TickReport summarizes one tick.
type TickReport struct {
	Window   [2]time.Time
	Tasks    int
	Expired  int
	Sent     int
	Failed   int
	Skipped  int
	Failures []error
}

// Service is the scheduler loop. It evaluates every task on a fixed interval,
// dispatches due notifications and records them in the ledger.
type Service struct {
	store    TaskStore
	ledger   Ledger
	ticks    TickStore
	notifier Notifier
	policy   *Policy
	clock    Clock
	opts     Options

	tickMu   sync.Mutex
	lastTick time.Time

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	stopCh chan struct{}
	done   chan struct{}
}

func NewService(ts TaskStore, ledger Ledger, ticks TickStore, notifier Notifier, policy *Policy, clock Clock, opts Options) *Service {
	if clock == nil {
		clock = SystemClock
	}
	return &Service{
		store:    ts,
		ledger:   ledger,
		ticks:    ticks,
		notifier: notifier,
		policy:   policy,
		clock:    clock,
		opts:     opts.withDefaults(),
		state:    StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	if s.state != StateStopped {
		s.state = st
	}
	s.mu.Unlock()
}

// Prepare loads the ledger and the last tick mark. Start calls it; a one-off
// Tick outside the loop must call it first.
func (s *Service) Prepare() error {
	if err := s.ledger.Load(); err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if s.ticks == nil {
		return nil
	}
	last, ok, err := s.ticks.LastTick()
	if err != nil {
		log.Printf("[reminder] warning: failed to read last tick: %v", err)
		return nil
	}
	if ok {
		s.tickMu.Lock()
		s.lastTick = last
		s.tickMu.Unlock()
	}
	return nil
}

// Start prepares state and runs the loop until ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Prepare(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.stopCh = stopCh
	s.done = done
	s.state = StateIdle
	s.mu.Unlock()

	go s.loop(runCtx, done)
	log.Printf("[reminder] started, interval %s", s.opts.Interval)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
			return
		}
	}()
	return nil
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.runTick(ctx)
	for {
		select {
		case <-ticker.C:
			s.runTick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rep, err := s.Tick(ctx)
	if err != nil {
		log.Printf("[reminder] tick skipped: %v", err)
		return
	}
	if rep.Sent > 0 || rep.Failed > 0 || rep.Expired > 0 {
		log.Printf("[reminder] tick: %d tasks, %d expired, %d sent, %d failed", rep.Tasks, rep.Expired, rep.Sent, rep.Failed)
	}
}

// Stop ends the loop and waits for an in-flight tick to finish dispatching.
// Every caller waits, including one racing a Stop triggered by ctx.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	done := s.done
	s.cancel = nil
	s.stopCh = nil
	s.state = StateStopped
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		close(stopCh)
	}
	if done == nil {
		return
	}
	<-done

	if cancel != nil {
		log.Printf("[reminder] stopped")
	}
}

type outgoing struct {
	due  Due
	text string
}

// Tick runs one evaluate-and-dispatch cycle over the window (lastTick, now].
// It fails only when the task list cannot be read; the last tick mark is then
// left where it was.
func (s *Service) Tick(ctx context.Context) (TickReport, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	defer s.setState(StateIdle)

	now := s.clock.Now()
	prev := s.windowStart(now)
	rep := TickReport{Window: [2]time.Time{prev, now}}

	s.setState(StateScanning)
	tasks, err := s.store.ListAll()
	if err != nil {
		return rep, fmt.Errorf("list tasks: %w", err)
	}
	rep.Tasks = len(tasks)

	var (
		batch  []outgoing
		owners []string
		owned  = make(map[string][]*task.Task)
	)
	for _, t := range tasks {
		current, transitioned, err := s.refresh(t, now)
		if err != nil {
			log.Printf("[reminder] task %s: %v", task.ShortID(t.ID), err)
			rep.Failures = append(rep.Failures, err)
			current = t
		}
		if transitioned {
			rep.Expired++
		}
		if _, seen := owned[current.Owner]; !seen {
			owners = append(owners, current.Owner)
		}
		owned[current.Owner] = append(owned[current.Owner], current)

		dues := s.policy.Expiry(current, transitioned, s.ledger)
		dues = append(dues, s.policy.ForTask(current, prev, now, s.ledger)...)
		dues = append(dues, s.policy.Submitted(current, prev, now, s.ledger)...)
		for _, d := range dues {
			if text, ok := s.policy.Render(d, current, nil, now); ok {
				batch = append(batch, outgoing{due: d, text: text})
			}
		}
	}

	for _, owner := range owners {
		for _, d := range s.policy.Summaries(owner, prev, now, s.ledger) {
			text, ok := s.policy.Render(d, nil, owned[owner], now)
			if !ok {
				rep.Skipped++
				continue
			}
			batch = append(batch, outgoing{due: d, text: text})
		}
	}

	if len(batch) > 0 {
		s.setState(StateDispatching)
		// A started batch completes even when shutdown cancels ctx.
		dctx := context.WithoutCancel(ctx)
		for _, o := range batch {
			if err := s.dispatch(dctx, o, now); err != nil {
				rep.Failed++
				rep.Failures = append(rep.Failures, err)
				continue
			}
			rep.Sent++
		}
	}

	s.lastTick = now
	if s.ticks != nil {
		if err := s.ticks.SetLastTick(now); err != nil {
			log.Printf("[reminder] warning: failed to persist last tick: %v", err)
		}
	}
	return rep, nil
}

func (s *Service) windowStart(now time.Time) time.Time {
	prev := s.lastTick
	if prev.IsZero() || !prev.Before(now) {
		prev = now.Add(-s.opts.Interval)
	}
	if now.Sub(prev) > MaxCatchUp {
		prev = now.Add(-MaxCatchUp)
	}
	return prev
}

// refresh persists a derived expiry before anything is evaluated. It reports
// whether this call made the transition.
func (s *Service) refresh(t *task.Task, now time.Time) (*task.Task, bool, error) {
	if task.DeriveStatus(t, now) == t.Status {
		return t, false, nil
	}
	transitioned := false
	updated, err := s.store.Update(t.ID, func(cur *task.Task) error {
		next := task.DeriveStatus(cur, now)
		if next == cur.Status {
			return nil
		}
		cur.Status = next
		cur.Touch(now)
		transitioned = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("persist expiry: %w", err)
	}
	if transitioned {
		log.Printf("[reminder] task %s expired", task.ShortID(updated.ID))
	}
	return updated, transitioned, nil
}

func (s *Service) dispatch(ctx context.Context, o outgoing, now time.Time) error {
	err := s.send(ctx, o.due.Owner, o.text)
	if err == nil {
		if _, lerr := s.ledger.MarkSent(o.due.Key, now); lerr != nil {
			log.Printf("[reminder] sent %s but failed to record it: %v", o.due.Key, lerr)
		}
		return nil
	}

	log.Printf("[reminder] send %s to %s failed: %v", o.due.Key, o.due.Owner, err)
	ent, lerr := s.ledger.RecordFailure(o.due.Key, err, now, s.opts.MaxAttempts)
	if lerr != nil {
		log.Printf("[reminder] failed to record failure of %s: %v", o.due.Key, lerr)
	} else if ent.State == store.StateFailedPermanent {
		log.Printf("[reminder] giving up on %s after %d attempts", o.due.Key, ent.Attempts)
	}
	return err
}

// send bounds a Notifier call by the notify timeout even when the notifier
// ignores its context.
func (s *Service) send(ctx context.Context, owner, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, s.opts.NotifyTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.notifier.Send(sendCtx, owner, text)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			if errors.Is(err, task.ErrDispatchFailure) {
				return err
			}
			return fmt.Errorf("%w: %w", task.ErrDispatchFailure, err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("%w: notify timed out after %s", task.ErrDispatchFailure, s.opts.NotifyTimeout)
	}
}
