package offline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is an in-memory remote store with injectable failures.
type fakeGateway struct {
	mu      sync.Mutex
	records map[ID]Record
	nextID  int
	profile Profile

	failFetch  error
	failCreate error
	failUpdate map[ID]error
	failDelete map[ID]error

	creates []Record
	updates []ID
	deletes []ID

	// onCreate runs before a create is stored, outside the lock.
	onCreate func()
	// onFetch runs before a fetch, outside the lock; an error fails it.
	onFetch func() error
}

func newFakeGateway(recs ...Record) *fakeGateway {
	g := &fakeGateway{
		records:    map[ID]Record{},
		nextID:     42,
		failUpdate: map[ID]error{},
		failDelete: map[ID]error{},
	}
	for _, r := range recs {
		g.records[r.ID] = r.Clone()
	}
	return g
}

func (g *fakeGateway) FetchAll(ctx context.Context) ([]Record, error) {
	if g.onFetch != nil {
		if err := g.onFetch(); err != nil {
			return nil, err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failFetch != nil {
		return nil, g.failFetch
	}
	out := make([]Record, 0, len(g.records))
	for _, r := range g.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *fakeGateway) CreateRemote(ctx context.Context, rec Record) (Record, error) {
	if g.onCreate != nil {
		g.onCreate()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates = append(g.creates, rec.Clone())
	if g.failCreate != nil {
		return Record{}, g.failCreate
	}
	out := rec.Clone()
	out.ID = ID(strconv.Itoa(g.nextID))
	g.nextID++
	g.records[out.ID] = out
	return out.Clone(), nil
}

func (g *fakeGateway) UpdateRemote(ctx context.Context, id ID, p Patch) (Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates = append(g.updates, id)
	if err := g.failUpdate[id]; err != nil {
		return Record{}, err
	}
	r, ok := g.records[id]
	if !ok {
		return Record{}, &SyncError{Op: "update", ID: id, Err: ErrNotFound}
	}
	r.Fields = p.Apply(r.Fields)
	g.records[id] = r
	return r.Clone(), nil
}

func (g *fakeGateway) DeleteRemote(ctx context.Context, id ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletes = append(g.deletes, id)
	if err := g.failDelete[id]; err != nil {
		return err
	}
	if _, ok := g.records[id]; !ok {
		return &SyncError{Op: "delete", ID: id, Err: ErrNotFound}
	}
	delete(g.records, id)
	return nil
}

func (g *fakeGateway) GetProfile(ctx context.Context) (Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failFetch != nil {
		return Profile{}, g.failFetch
	}
	return g.profile, nil
}

func (g *fakeGateway) UpdateProfile(ctx context.Context, p Profile) (Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.profile = p
	return p, nil
}

func (g *fakeGateway) remote(id ID) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.records[id]
	return r, ok
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

type syncerEnv struct {
	ctx     context.Context
	journal *Journal
	gateway *fakeGateway
	monitor *Monitor
	syncer  *Syncer
}

func newSyncerEnv(t *testing.T, online bool, gw *fakeGateway, opts ...Option) *syncerEnv {
	t.Helper()
	j, _ := newTestJournal(t, "")
	m := quietMonitor(online)
	logger, _ := test.NewNullLogger()
	s := NewSyncer(j, gw, m, append([]Option{WithLogger(logger)}, opts...)...)
	t.Cleanup(s.Close)
	return &syncerEnv{ctx: context.Background(), journal: j, gateway: gw, monitor: m, syncer: s}
}

// seed fetches the gateway's records into the local snapshot.
func (e *syncerEnv) seed(t *testing.T) {
	t.Helper()
	_, err := e.syncer.Sync(e.ctx)
	require.NoError(t, err)
}

func TestSyncerOfflineCreateIsPromotedOnReconnect(t *testing.T) {
	gw := newFakeGateway()
	env := newSyncerEnv(t, false, gw)

	rec, err := env.syncer.Create(env.ctx, Fields{"title": "buy milk"})
	require.NoError(t, err)
	assert.True(t, rec.ID.IsLocal())
	assert.Equal(t, []ID{rec.ID}, ids(env.syncer.Records()))
	assert.Equal(t, 1, env.journal.Counts().Creates)

	_, err = env.syncer.Sync(env.ctx)
	assert.ErrorIs(t, err, ErrOffline)

	env.monitor.SetOnline(true)
	env.monitor.Wait()
	env.syncer.bg.Wait()

	recs := env.syncer.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, ID("42"), recs[0].ID)
	assert.Equal(t, "buy milk", recs[0].Fields["title"])
	assert.Equal(t, 0, env.journal.Counts().Total())
	assert.Len(t, gw.creates, 1)
}

func TestSyncerPendingUpdateWinsOverFetch(t *testing.T) {
	gw := newFakeGateway(Record{ID: "7", Fields: Fields{"title": "t", "completed": false}})
	env := newSyncerEnv(t, true, gw)
	env.seed(t)

	env.monitor.SetOnline(false)
	_, err := env.syncer.Update(env.ctx, "7", NewPatch(Fields{"completed": true}))
	require.NoError(t, err)

	// a fetch while the update is pending still shows the local value
	require.NoError(t, env.syncer.fetchAndMerge(env.ctx))
	r, ok := env.syncer.Get("7")
	require.True(t, ok)
	assert.Equal(t, true, r.Fields["completed"])

	env.monitor.SetOnline(true)
	env.monitor.Wait()
	env.syncer.bg.Wait()

	remote, _ := gw.remote("7")
	assert.Equal(t, true, remote.Fields["completed"])
	assert.Equal(t, 0, env.journal.Counts().Total())
}

func TestSyncerOfflineDeleteOmittedAfterFetch(t *testing.T) {
	gw := newFakeGateway(Record{ID: "8"}, Record{ID: "9"})
	env := newSyncerEnv(t, true, gw)
	env.seed(t)

	env.monitor.SetOnline(false)
	require.NoError(t, env.syncer.Delete(env.ctx, "9"))
	require.NoError(t, env.syncer.fetchAndMerge(env.ctx))
	assert.Equal(t, []ID{"8"}, ids(env.syncer.Records()))

	env.monitor.SetOnline(true)
	env.monitor.Wait()
	env.syncer.bg.Wait()

	_, still := gw.remote("9")
	assert.False(t, still)
	assert.Equal(t, 0, env.journal.Counts().Total())
	assert.Equal(t, []ID{"8"}, ids(env.syncer.Records()))
}

func TestSyncerUpdateOnRemotelyDeletedRecordIsCleared(t *testing.T) {
	gw := newFakeGateway(Record{ID: "5", Fields: Fields{"title": "old"}})
	env := newSyncerEnv(t, true, gw)
	env.seed(t)

	env.monitor.SetOnline(false)
	_, err := env.syncer.Update(env.ctx, "5", NewPatch(Fields{"title": "new"}))
	require.NoError(t, err)
	gw.set(func(g *fakeGateway) { delete(g.records, "5") })

	var flushed []FlushReport
	var mu sync.Mutex
	env.syncer.events = &SyncEvents{OnFlush: func(r FlushReport) {
		mu.Lock()
		flushed = append(flushed, r)
		mu.Unlock()
	}}
	env.monitor.SetOnline(true)
	env.monitor.Wait()
	env.syncer.bg.Wait()

	require.Len(t, flushed, 1)
	assert.Equal(t, 1, flushed[0].Dropped)
	assert.NoError(t, flushed[0].Err)
	assert.Equal(t, 0, env.journal.Counts().Total())
	assert.Empty(t, env.syncer.Records())
}

func TestSyncerUnauthorizedStopsFlush(t *testing.T) {
	gw := newFakeGateway(Record{ID: "1"}, Record{ID: "2"})
	env := newSyncerEnv(t, true, gw)
	env.seed(t)

	env.monitor.SetOnline(false)
	require.NoError(t, env.syncer.Delete(env.ctx, "1"))
	_, err := env.syncer.Create(env.ctx, Fields{"title": "x"})
	require.NoError(t, err)
	_, err = env.syncer.Update(env.ctx, "2", NewPatch(Fields{"x": 1}))
	require.NoError(t, err)

	gw.set(func(g *fakeGateway) {
		g.failDelete["1"] = &SyncError{Op: "delete", ID: "1", Err: ErrUnauthorized}
	})
	env.monitor.SetOnline(true)
	env.monitor.Wait()
	env.syncer.bg.Wait()

	rep, err := env.syncer.Sync(env.ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, rep.Flush.Failed)
	assert.Empty(t, gw.creates, "nothing is sent after an auth failure")
	assert.Empty(t, gw.updates)
	assert.Equal(t, PendingCounts{Creates: 1, Updates: 1, Deletes: 1}, env.journal.Counts())
}

func TestSyncerTransientFailureKeepsEntryAndContinues(t *testing.T) {
	gw := newFakeGateway(Record{ID: "1"}, Record{ID: "2"})
	env := newSyncerEnv(t, true, gw)
	env.seed(t)

	env.monitor.SetOnline(false)
	_, err := env.syncer.Update(env.ctx, "1", NewPatch(Fields{"a": 1}))
	require.NoError(t, err)
	_, err = env.syncer.Update(env.ctx, "2", NewPatch(Fields{"b": 2}))
	require.NoError(t, err)

	gw.set(func(g *fakeGateway) {
		g.failUpdate["1"] = &SyncError{Op: "update", ID: "1", Err: ErrServerError}
	})
	env.monitor.SetOnline(true)
	env.monitor.Wait()
	env.syncer.bg.Wait()

	rep, err := env.syncer.Sync(env.ctx)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, 1, rep.Flush.Failed)
	v := env.journal.View()
	assert.Contains(t, v.Updates, ID("1"))
	assert.NotContains(t, v.Updates, ID("2"))

	r, _ := env.syncer.Get("1")
	assert.Equal(t, 1, r.Fields["a"])
}

func TestSyncerFetchFailureKeepsCachedRecords(t *testing.T) {
	gw := newFakeGateway(Record{ID: "1"}, Record{ID: "2"})
	env := newSyncerEnv(t, true, gw)
	env.seed(t)
	before := env.journal.View().LastSync

	gw.set(func(g *fakeGateway) {
		g.failFetch = &SyncError{Op: "fetch", Err: ErrNetworkFailure}
	})
	_, err := env.syncer.Sync(env.ctx)
	assert.ErrorIs(t, err, ErrNetworkFailure)
	assert.Equal(t, []ID{"1", "2"}, ids(env.syncer.Records()))
	assert.Equal(t, before, env.journal.View().LastSync)
	assert.Equal(t, StateIdle, env.syncer.State())
}

func TestSyncerOnlineMutationsFlushImmediately(t *testing.T) {
	gw := newFakeGateway()
	env := newSyncerEnv(t, true, gw)

	rec, err := env.syncer.Create(env.ctx, Fields{"title": "x"})
	require.NoError(t, err)
	assert.Equal(t, ID("42"), rec.ID)

	out, err := env.syncer.Update(env.ctx, rec.ID, NewPatch(Fields{"completed": true}))
	require.NoError(t, err)
	assert.Equal(t, true, out.Fields["completed"])

	require.NoError(t, env.syncer.Delete(env.ctx, rec.ID))
	_, ok := gw.remote("42")
	assert.False(t, ok)
	assert.Empty(t, env.syncer.Records())
	assert.Equal(t, 0, env.journal.Counts().Total())
}

func TestSyncerCreateFailureLeavesRecordPending(t *testing.T) {
	gw := newFakeGateway()
	gw.failCreate = &SyncError{Op: "create", Err: ErrNetworkFailure}
	env := newSyncerEnv(t, true, gw)

	rec, err := env.syncer.Create(env.ctx, Fields{"title": "x"})
	assert.ErrorIs(t, err, ErrNetworkFailure)
	assert.True(t, rec.ID.IsLocal())
	assert.Equal(t, []ID{rec.ID}, ids(env.syncer.Records()))
	assert.Equal(t, 1, env.journal.Counts().Creates)
}

func TestSyncerCreateDeletedWhileInFlight(t *testing.T) {
	gw := newFakeGateway()
	env := newSyncerEnv(t, false, gw)

	rec, err := env.syncer.Create(env.ctx, Fields{"title": "x"})
	require.NoError(t, err)

	gw.onCreate = func() {
		// the user deletes the record while the create is on the wire
		assert.NoError(t, env.journal.RecordDelete(env.ctx, rec.ID))
	}
	env.monitor.SetOnline(true)
	env.monitor.Wait()
	env.syncer.bg.Wait()

	_, ok := gw.remote("42")
	assert.False(t, ok, "the confirmed record is deleted remotely")
	assert.Empty(t, env.syncer.Records())
	assert.Equal(t, 0, env.journal.Counts().Total())
}

func TestSyncerUnknownRecord(t *testing.T) {
	env := newSyncerEnv(t, true, newFakeGateway())
	_, err := env.syncer.Update(env.ctx, "nope", NewPatch(Fields{"x": 1}))
	assert.ErrorIs(t, err, ErrUnknownRecord)
	assert.ErrorIs(t, env.syncer.Delete(env.ctx, "nope"), ErrUnknownRecord)
}

func TestSyncerStateTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	var flushes []FlushReport
	var completed int
	ev := &SyncEvents{
		OnStateChange: func(from, to State) {
			mu.Lock()
			seen = append(seen, fmt.Sprintf("%s->%s", from, to))
			mu.Unlock()
		},
		OnFlush:    func(r FlushReport) { flushes = append(flushes, r) },
		OnComplete: func(Report, error) { completed++ },
	}
	gw := newFakeGateway(Record{ID: "1"})
	env := newSyncerEnv(t, true, gw, WithEvents(ev))

	rep, err := env.syncer.Sync(env.ctx)
	require.NoError(t, err)
	assert.True(t, rep.Fetched)
	assert.False(t, rep.Refetched)
	assert.Equal(t, 1, rep.Records)
	assert.Equal(t, []string{
		"idle->fetching", "fetching->merging", "merging->flushing", "flushing->idle",
	}, seen)
	assert.Len(t, flushes, 1)
	assert.Equal(t, 1, completed)
}

func TestSyncerStatus(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	gw := newFakeGateway(Record{ID: "1"})
	env := newSyncerEnv(t, true, gw, WithClock(func() time.Time { return now }))
	env.seed(t)

	env.monitor.SetOnline(false)
	_, err := env.syncer.Create(env.ctx, Fields{"title": "x"})
	require.NoError(t, err)

	st := env.syncer.Status()
	assert.False(t, st.Online)
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 2, st.Records)
	assert.Equal(t, 1, st.Pending.Creates)
	assert.True(t, now.Equal(st.LastSync))
}

func TestSyncerTriggerDuringFailingCycleRunsAgain(t *testing.T) {
	gw := newFakeGateway()
	env := newSyncerEnv(t, true, gw)

	started := make(chan struct{})
	release := make(chan struct{})
	var fetches atomic.Int32
	gw.onFetch = func() error {
		if fetches.Add(1) > 1 {
			return nil
		}
		close(started)
		<-release
		return fmt.Errorf("fetch: %w", ErrNetworkFailure)
	}

	env.syncer.Trigger()
	<-started

	// The link flaps while the first cycle's fetch is still failing.
	env.monitor.SetOnline(false)
	_, err := env.syncer.Create(env.ctx, Fields{"title": "queued"})
	require.NoError(t, err)
	env.monitor.SetOnline(true)
	env.monitor.Wait()
	env.syncer.Trigger()
	env.syncer.Trigger()

	close(release)
	env.syncer.bg.Wait()

	assert.Equal(t, 0, env.journal.Counts().Total())
	assert.Len(t, gw.creates, 1)
	assert.Equal(t, []ID{"42"}, ids(env.syncer.Records()))
	// The failed cycle, then at least one follow-up that fetches, flushes
	// and re-fetches.
	assert.GreaterOrEqual(t, fetches.Load(), int32(3))
}

func TestSyncerReadsSurviveRestart(t *testing.T) {
	gw := newFakeGateway(Record{ID: "1", Fields: Fields{"title": "a"}})
	j, st := newTestJournal(t, "")
	logger, _ := test.NewNullLogger()
	s := NewSyncer(j, gw, quietMonitor(true), WithLogger(logger))
	_, err := s.Sync(context.Background())
	require.NoError(t, err)
	s.Close()

	j2, err := LoadJournal(context.Background(), st, logger)
	require.NoError(t, err)
	s2 := NewSyncer(j2, gw, quietMonitor(false), WithLogger(logger))
	defer s2.Close()
	recs := s2.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].Fields["title"])
}

func TestSyncerProfile(t *testing.T) {
	gw := newFakeGateway()
	gw.profile = Profile{ID: "u1", Name: "Ada"}
	env := newSyncerEnv(t, true, gw)

	p, err := env.syncer.Profile(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Name)

	p.Name = "Grace"
	_, err = env.syncer.SaveProfile(env.ctx, p)
	require.NoError(t, err)

	env.monitor.SetOnline(false)
	cached, err := env.syncer.Profile(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, "Grace", cached.Name)

	_, err = env.syncer.SaveProfile(env.ctx, p)
	assert.ErrorIs(t, err, ErrOffline)
}

func TestSyncerFlushWhileOffline(t *testing.T) {
	env := newSyncerEnv(t, false, newFakeGateway())
	rep := env.syncer.Flush(env.ctx)
	assert.ErrorIs(t, rep.Err, ErrOffline)
}
