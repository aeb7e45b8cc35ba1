// ABOUTME: Mutation journal: pending creates, updates and deletes keyed by record id.
// ABOUTME: Every mutation is serialized and written through to the Store before it becomes visible.
package offline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PendingCounts summarizes the journals.
type PendingCounts struct {
	Creates int
	Updates int
	Deletes int
}

// Total returns the number of journal entries.
func (c PendingCounts) Total() int { return c.Creates + c.Updates + c.Deletes }

// View is an immutable copy of the journal state.
type View struct {
	Snapshot []Record
	Creates  []Record
	Updates  map[ID]Patch
	Deletes  []ID
	LastSync time.Time
	Version  uint64
}

// Effective reconciles the view into the record set the application shows.
func (v View) Effective() []Record {
	return Reconcile(v.Snapshot, v.Creates, v.Updates, v.Deletes)
}

// Counts returns the number of pending entries per kind.
func (v View) Counts() PendingCounts {
	return PendingCounts{Creates: len(v.Creates), Updates: len(v.Updates), Deletes: len(v.Deletes)}
}

// Journal owns the in-memory snapshot and the three pending journals. All
// mutations hold one mutex, build the next state on a copy, commit it to the
// Store and only then swap it in, so a failed write changes nothing and no
// reader sees a half-applied mutation.
type Journal struct {
	mu    sync.Mutex
	store *Store
	log   logrus.FieldLogger
	st    journalState
}

type journalState struct {
	snapshot []Record
	creates  []Record
	updates  map[ID]Patch
	deletes  []ID
	lastSync time.Time
	version  uint64

	dirty    map[string]bool
	syncedAt *time.Time
}

// LoadJournal restores the journal from store. Corrupt slots load as empty.
func LoadJournal(ctx context.Context, store *Store, log logrus.FieldLogger) (*Journal, error) {
	if log == nil {
		log = defaultLogger()
	}
	snap, err := store.ReadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	pending, err := store.ReadPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	last, err := store.LastSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("read sync clock: %w", err)
	}
	j := &Journal{
		store: store,
		log:   log,
		st: journalState{
			snapshot: dedupe(snap),
			creates:  dedupe(pending.Creates),
			updates:  pending.Updates,
			deletes:  pending.Deletes,
			lastSync: last,
		},
	}
	if j.st.updates == nil {
		j.st.updates = map[ID]Patch{}
	}
	j.repair()
	return j, nil
}

// repair restores the create/delete exclusivity invariant on loaded state.
func (j *Journal) repair() {
	creates := make(map[ID]struct{}, len(j.st.creates))
	for _, r := range j.st.creates {
		creates[r.ID] = struct{}{}
	}
	kept := j.st.deletes[:0]
	for _, id := range j.st.deletes {
		if _, ok := creates[id]; ok {
			j.log.WithField("id", id).Warn("dropping delete that shadows a pending create")
			continue
		}
		kept = append(kept, id)
	}
	j.st.deletes = kept
}

// View returns a copy of the current state.
func (j *Journal) View() View {
	j.mu.Lock()
	defer j.mu.Unlock()
	upd := make(map[ID]Patch, len(j.st.updates))
	for id, p := range j.st.updates {
		upd[id] = p.clone()
	}
	return View{
		Snapshot: cloneRecords(j.st.snapshot),
		Creates:  cloneRecords(j.st.creates),
		Updates:  upd,
		Deletes:  append([]ID(nil), j.st.deletes...),
		LastSync: j.st.lastSync,
		Version:  j.st.version,
	}
}

// RecordCreate journals a record minted offline. Re-recording the same id
// replaces the entry.
func (j *Journal) RecordCreate(ctx context.Context, rec Record) error {
	if !rec.ID.IsLocal() {
		return fmt.Errorf("record create: %q is not a local id", rec.ID)
	}
	return j.mutate(ctx, func(st *journalState) bool {
		rec = rec.Clone()
		if i := indexOf(st.creates, rec.ID); i >= 0 {
			st.creates[i] = rec
		} else {
			st.creates = append(st.creates, rec)
		}
		st.touch(SlotPendingCreates)
		return true
	})
}

// RecordUpdate merges p into the pending update for id, field by field.
// Updates to a record with a pending delete are dropped; a local id with no
// pending create is rejected with ErrUnknownRecord.
func (j *Journal) RecordUpdate(ctx context.Context, id ID, p Patch) error {
	if p.IsEmpty() {
		return nil
	}
	var unknown bool
	err := j.mutate(ctx, func(st *journalState) bool {
		if containsID(st.deletes, id) {
			j.log.WithField("id", id).Debug("dropping update for deleted record")
			return false
		}
		if id.IsLocal() && indexOf(st.creates, id) < 0 {
			unknown = true
			return false
		}
		st.updates[id] = st.updates[id].Merge(p)
		st.touch(SlotPendingUpdates)
		return true
	})
	if err == nil && unknown {
		err = fmt.Errorf("record update %s: %w", id, ErrUnknownRecord)
	}
	return err
}

// RecordDelete journals a delete. A pending create for id cancels out with
// it and nothing reaches the server; otherwise any pending update is dropped.
// A local id with no pending create was never sent, so it is a no-op.
func (j *Journal) RecordDelete(ctx context.Context, id ID) error {
	return j.mutate(ctx, func(st *journalState) bool {
		if id.IsLocal() && indexOf(st.creates, id) < 0 {
			return false
		}
		changed := false
		if _, ok := st.updates[id]; ok {
			delete(st.updates, id)
			st.touch(SlotPendingUpdates)
			changed = true
		}
		if i := indexOf(st.creates, id); i >= 0 {
			st.creates = append(st.creates[:i], st.creates[i+1:]...)
			st.touch(SlotPendingCreates)
			return true
		}
		if !containsID(st.deletes, id) {
			st.deletes = append(st.deletes, id)
			st.touch(SlotPendingDeletes)
			changed = true
		}
		return changed
	})
}

// Clear removes a single journal entry.
func (j *Journal) Clear(ctx context.Context, kind JournalKind, id ID) error {
	return j.mutate(ctx, func(st *journalState) bool {
		switch kind {
		case KindCreate:
			i := indexOf(st.creates, id)
			if i < 0 {
				return false
			}
			st.creates = append(st.creates[:i], st.creates[i+1:]...)
		case KindUpdate:
			if _, ok := st.updates[id]; !ok {
				return false
			}
			delete(st.updates, id)
		case KindDelete:
			i := indexOfID(st.deletes, id)
			if i < 0 {
				return false
			}
			st.deletes = append(st.deletes[:i], st.deletes[i+1:]...)
		default:
			return false
		}
		st.touch(kind.slot())
		return true
	})
}

// ClearUpdate drops the fields of sent that still hold the sent values,
// keeping anything edited while the update was in flight.
func (j *Journal) ClearUpdate(ctx context.Context, id ID, sent Patch) error {
	return j.ConfirmUpdate(ctx, id, sent, nil)
}

// ConfirmUpdate clears what was sent and, when confirmed is non-nil, stores
// the server's record in the snapshot, in one commit.
func (j *Journal) ConfirmUpdate(ctx context.Context, id ID, sent Patch, confirmed *Record) error {
	return j.mutate(ctx, func(st *journalState) bool {
		changed := false
		if cur, ok := st.updates[id]; ok {
			rest := cur.Without(sent)
			if rest.IsEmpty() {
				delete(st.updates, id)
			} else {
				st.updates[id] = rest
			}
			st.touch(SlotPendingUpdates)
			changed = true
		}
		if confirmed != nil {
			st.upsertSnapshot(*confirmed)
			changed = true
		}
		return changed
	})
}

// ConfirmDelete removes the pending delete and the snapshot copy of id.
func (j *Journal) ConfirmDelete(ctx context.Context, id ID) error {
	return j.mutate(ctx, func(st *journalState) bool {
		changed := false
		if i := indexOfID(st.deletes, id); i >= 0 {
			st.deletes = append(st.deletes[:i], st.deletes[i+1:]...)
			st.touch(SlotPendingDeletes)
			changed = true
		}
		if i := indexOf(st.snapshot, id); i >= 0 {
			st.snapshot = append(st.snapshot[:i], st.snapshot[i+1:]...)
			st.touch(SlotSnapshot)
			changed = true
		}
		return changed
	})
}

// PromoteLocalID confirms the pending create for localID under serverID.
// The create is consumed: it leaves the pending creates and moves into the
// snapshot under serverID with its fields unchanged, and pending updates
// are re-keyed. It reports whether a pending create for localID existed.
func (j *Journal) PromoteLocalID(ctx context.Context, localID, serverID ID) (bool, error) {
	return j.promote(ctx, localID, serverID, nil)
}

// ConfirmCreate promotes localID to confirmed.ID and stores the server's
// record in the snapshot. It reports false, changing nothing, when the
// pending create is gone (deleted while the request was in flight).
func (j *Journal) ConfirmCreate(ctx context.Context, localID ID, confirmed Record) (bool, error) {
	return j.promote(ctx, localID, confirmed.ID, &confirmed)
}

func (j *Journal) promote(ctx context.Context, localID, serverID ID, confirmed *Record) (bool, error) {
	if serverID == "" || serverID.IsLocal() {
		return false, fmt.Errorf("promote %s: invalid server id %q", localID, serverID)
	}
	found := false
	err := j.mutate(ctx, func(st *journalState) bool {
		i := indexOf(st.creates, localID)
		if i < 0 {
			return false
		}
		found = true
		rec := st.creates[i]
		st.creates = append(st.creates[:i], st.creates[i+1:]...)
		st.touch(SlotPendingCreates)

		if confirmed != nil {
			rec = confirmed.Clone()
		}
		rec.ID = serverID

		for k := range st.snapshot {
			if st.snapshot[k].ID == localID {
				st.snapshot[k].ID = serverID
			}
		}
		st.upsertSnapshot(rec)

		if p, ok := st.updates[localID]; ok {
			delete(st.updates, localID)
			st.updates[serverID] = st.updates[serverID].Merge(p)
			st.touch(SlotPendingUpdates)
		}
		if k := indexOfID(st.deletes, localID); k >= 0 {
			st.deletes[k] = serverID
			st.touch(SlotPendingDeletes)
		}
		return true
	})
	return found, err
}

// ReplaceSnapshot stores a freshly fetched authoritative snapshot and
// advances the sync clock.
func (j *Journal) ReplaceSnapshot(ctx context.Context, recs []Record, fetchedAt time.Time) error {
	return j.mutate(ctx, func(st *journalState) bool {
		st.snapshot = dedupe(cloneRecords(recs))
		st.touch(SlotSnapshot)
		st.syncedAt = &fetchedAt
		return true
	})
}

// Counts returns the number of pending entries per kind.
func (j *Journal) Counts() PendingCounts {
	j.mu.Lock()
	defer j.mu.Unlock()
	return PendingCounts{Creates: len(j.st.creates), Updates: len(j.st.updates), Deletes: len(j.st.deletes)}
}

// mutate applies fn to a copy of the state and commits the slots it touched.
func (j *Journal) mutate(ctx context.Context, fn func(st *journalState) bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	next := j.st.clone()
	if !fn(&next) {
		return nil
	}

	var b Batch
	for slot := range next.dirty {
		switch slot {
		case SlotSnapshot:
			b.PutSnapshot(next.snapshot)
		case SlotPendingCreates:
			b.PutJournal(KindCreate, Pending{Creates: next.creates})
		case SlotPendingUpdates:
			b.PutJournal(KindUpdate, Pending{Updates: next.updates})
		case SlotPendingDeletes:
			b.PutJournal(KindDelete, Pending{Deletes: next.deletes})
		}
	}
	if next.syncedAt != nil {
		b.SetLastSync(*next.syncedAt)
		next.lastSync = *next.syncedAt
	}
	if err := j.store.Commit(ctx, b); err != nil {
		return fmt.Errorf("commit journal: %w", err)
	}

	next.dirty = nil
	next.syncedAt = nil
	next.version = j.st.version + 1
	j.st = next
	return nil
}

func (st journalState) clone() journalState {
	upd := make(map[ID]Patch, len(st.updates))
	for id, p := range st.updates {
		upd[id] = p
	}
	return journalState{
		snapshot: append([]Record(nil), st.snapshot...),
		creates:  append([]Record(nil), st.creates...),
		updates:  upd,
		deletes:  append([]ID(nil), st.deletes...),
		lastSync: st.lastSync,
		version:  st.version,
	}
}

func (st *journalState) touch(slot string) {
	if st.dirty == nil {
		st.dirty = make(map[string]bool, 4)
	}
	st.dirty[slot] = true
}

func (st *journalState) upsertSnapshot(rec Record) {
	rec = rec.Clone()
	if i := indexOf(st.snapshot, rec.ID); i >= 0 {
		st.snapshot[i] = rec
	} else {
		st.snapshot = append(st.snapshot, rec)
	}
	st.touch(SlotSnapshot)
}

func indexOf(recs []Record, id ID) int {
	for i, r := range recs {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func indexOfID(ids []ID, id ID) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func containsID(ids []ID, id ID) bool { return indexOfID(ids, id) >= 0 }

// dedupe keeps the first record per id.
func dedupe(recs []Record) []Record {
	seen := make(map[ID]struct{}, len(recs))
	out := recs[:0:0]
	for _, r := range recs {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
