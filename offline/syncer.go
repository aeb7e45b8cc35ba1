// ABOUTME: Syncer drives fetch, merge and flush cycles over the journal and gateway.
// ABOUTME: Reads are served from the last merged record set and never wait on the network.
package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Syncer coordinates the journal, the remote gateway and the connectivity
// monitor. Mutations are applied locally first and flushed when online.
type Syncer struct {
	journal  *Journal
	gateway  Gateway
	profiles ProfileGateway
	monitor  *Monitor
	log      logrus.FieldLogger
	events   *SyncEvents
	now      func() time.Time

	cycleTimeout time.Duration

	viewMu     sync.RWMutex
	effective  []Record
	effVersion uint64
	effValid   bool

	state   atomic.Int32
	cycleMu sync.Mutex
	flushMu sync.Mutex
	rerun   atomic.Bool

	bg          sync.WaitGroup
	unsubscribe func()
}

// Option customizes a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Syncer) { s.log = l }
}

// WithEvents installs observability hooks.
func WithEvents(ev *SyncEvents) Option {
	return func(s *Syncer) { s.events = ev }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// WithCycleTimeout bounds background cycles started by Trigger (default: 30s).
func WithCycleTimeout(d time.Duration) Option {
	return func(s *Syncer) { s.cycleTimeout = d }
}

// NewSyncer wires the orchestrator. gateway may also implement
// ProfileGateway. A nil monitor means "always online". When a monitor is
// given, every reconnect triggers a background sync cycle.
func NewSyncer(journal *Journal, gateway Gateway, monitor *Monitor, opts ...Option) *Syncer {
	s := &Syncer{
		journal:      journal,
		gateway:      gateway,
		monitor:      monitor,
		log:          defaultLogger(),
		now:          time.Now,
		cycleTimeout: 30 * time.Second,
	}
	if pg, ok := gateway.(ProfileGateway); ok {
		s.profiles = pg
	}
	for _, opt := range opts {
		opt(s)
	}
	s.refresh()
	if monitor != nil {
		s.unsubscribe = monitor.OnReconnect(s.Trigger)
	}
	return s
}

// Close detaches from the monitor and waits for background cycles.
func (s *Syncer) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.bg.Wait()
}

// Online reports whether remote calls should be attempted.
func (s *Syncer) Online() bool {
	return s.monitor == nil || s.monitor.IsOnline()
}

// State returns the current phase.
func (s *Syncer) State() State {
	return State(s.state.Load())
}

// Records returns the effective record set. It never blocks on the network.
func (s *Syncer) Records() []Record {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return cloneRecords(s.effective)
}

// Get returns the effective record for id.
func (s *Syncer) Get(id ID) (Record, bool) {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	if i := indexOf(s.effective, id); i >= 0 {
		return s.effective[i].Clone(), true
	}
	return Record{}, false
}

// Status summarizes sync state for display.
func (s *Syncer) Status() Status {
	v := s.journal.View()
	s.viewMu.RLock()
	n := len(s.effective)
	s.viewMu.RUnlock()
	return Status{
		State:    s.State(),
		Online:   s.Online(),
		Pending:  v.Counts(),
		Records:  n,
		LastSync: v.LastSync,
	}
}

// Create mints a local record, journals it and, when online, sends it. The
// returned record carries the server id if the create was confirmed; a
// remote failure is returned alongside the still-pending local record.
func (s *Syncer) Create(ctx context.Context, fields Fields) (Record, error) {
	now := s.now().UTC()
	rec := Record{ID: NewLocalID(), Fields: fields.Clone(), CreatedAt: now, UpdatedAt: now}
	if err := s.journal.RecordCreate(ctx, rec); err != nil {
		return Record{}, err
	}
	s.refresh()
	s.log.WithFields(logrus.Fields{"id": rec.ID, "op": "create"}).Debug("journaled")

	id, err := s.flushRecord(ctx, rec.ID)
	if out, ok := s.Get(id); ok {
		return out, err
	}
	return rec, err
}

// Update journals a partial update and, when online, sends it.
func (s *Syncer) Update(ctx context.Context, id ID, p Patch) (Record, error) {
	if _, ok := s.Get(id); !ok {
		return Record{}, fmt.Errorf("update %s: %w", id, ErrUnknownRecord)
	}
	if err := s.journal.RecordUpdate(ctx, id, p); err != nil {
		return Record{}, err
	}
	s.refresh()
	s.log.WithFields(logrus.Fields{"id": id, "op": "update", "fields": p.Names()}).Debug("journaled")

	id, err := s.flushRecord(ctx, id)
	out, _ := s.Get(id)
	return out, err
}

// Delete journals a delete and, when online, sends it.
func (s *Syncer) Delete(ctx context.Context, id ID) error {
	if _, ok := s.Get(id); !ok {
		return fmt.Errorf("delete %s: %w", id, ErrUnknownRecord)
	}
	if err := s.journal.RecordDelete(ctx, id); err != nil {
		return err
	}
	s.refresh()
	s.log.WithFields(logrus.Fields{"id": id, "op": "delete"}).Debug("journaled")

	_, err := s.flushRecord(ctx, id)
	return err
}

// Sync runs one full cycle: fetch, merge, flush and, if the flush changed
// anything, fetch and merge again. A failed fetch aborts the cycle and the
// last merged record set stays in place.
func (s *Syncer) Sync(ctx context.Context) (Report, error) {
	s.cycleMu.Lock()
	defer s.unlockCycle()
	return s.runCycle(ctx)
}

// Trigger starts a background cycle and returns immediately. Triggers that
// arrive while a cycle is running coalesce into one follow-up cycle started
// when that cycle ends.
func (s *Syncer) Trigger() {
	s.rerun.Store(true)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if !s.cycleMu.TryLock() {
			// The holder sees rerun when it unlocks.
			return
		}
		s.rerun.Store(false)
		defer s.unlockCycle()

		ctx, cancel := context.WithTimeout(context.Background(), s.cycleTimeout)
		defer cancel()
		if _, err := s.runCycle(ctx); err != nil && !errors.Is(err, ErrOffline) {
			s.log.WithError(err).Warn("background sync failed")
		}
	}()
}

// unlockCycle releases the cycle lock, then starts a follow-up cycle if a
// trigger arrived while it was held. A trigger that sets rerun after the
// check finds the lock already free.
func (s *Syncer) unlockCycle() {
	s.cycleMu.Unlock()
	if s.rerun.Swap(false) {
		s.Trigger()
	}
}

func (s *Syncer) runCycle(ctx context.Context) (rep Report, err error) {
	start := s.now()
	defer func() {
		rep.Duration = s.now().Sub(start)
		s.setState(StateIdle)
		if s.events != nil && s.events.OnComplete != nil {
			s.events.OnComplete(rep, err)
		}
	}()

	if !s.Online() {
		return rep, ErrOffline
	}

	if err := s.fetchAndMerge(ctx); err != nil {
		return rep, err
	}
	rep.Fetched = true

	rep.Flush = s.flushAll(ctx)
	if rep.Flush.Changed() {
		if err := s.fetchAndMerge(ctx); err != nil {
			s.log.WithError(err).Warn("re-fetch after flush failed")
			rep.Records = len(s.Records())
			return rep, errors.Join(rep.Flush.Err, err)
		}
		rep.Refetched = true
	}
	rep.Records = len(s.Records())
	return rep, rep.Flush.Err
}

// fetchAndMerge holds flushMu so a create confirmed mid-fetch cannot be
// wiped by a snapshot that predates it.
func (s *Syncer) fetchAndMerge(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.setState(StateFetching)
	recs, err := s.gateway.FetchAll(ctx)
	if err != nil {
		s.log.WithError(err).WithField("kind", Classify(err)).Warn("fetch failed; keeping cached records")
		return err
	}

	s.setState(StateMerging)
	if err := s.journal.ReplaceSnapshot(ctx, recs, s.now().UTC()); err != nil {
		return err
	}
	s.refresh()
	s.log.WithField("records", len(recs)).Debug("snapshot merged")
	return nil
}

// refresh recomputes the effective set from the journal. Versions keep an
// older view from replacing a newer one when refreshes race.
func (s *Syncer) refresh() {
	v := s.journal.View()
	eff := v.Effective()

	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	if s.effValid && v.Version < s.effVersion {
		return
	}
	s.effective = eff
	s.effVersion = v.Version
	s.effValid = true
}

func (s *Syncer) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from != to && s.events != nil && s.events.OnStateChange != nil {
		s.events.OnStateChange(from, to)
	}
}

// enterFlushing moves Idle -> Flushing for a single user action; it leaves
// the phase alone when a cycle is already running.
func (s *Syncer) enterFlushing() bool {
	if s.state.CompareAndSwap(int32(StateIdle), int32(StateFlushing)) {
		if s.events != nil && s.events.OnStateChange != nil {
			s.events.OnStateChange(StateIdle, StateFlushing)
		}
		return true
	}
	return false
}

func (s *Syncer) leaveFlushing() {
	if s.state.CompareAndSwap(int32(StateFlushing), int32(StateIdle)) {
		if s.events != nil && s.events.OnStateChange != nil {
			s.events.OnStateChange(StateFlushing, StateIdle)
		}
	}
}
