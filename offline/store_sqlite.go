package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Slot names persisted by the Store.
const (
	SlotSnapshot       = "snapshot"
	SlotPendingCreates = "pending_creates"
	SlotPendingUpdates = "pending_updates"
	SlotPendingDeletes = "pending_deletes"
	SlotProfile        = "profile"

	stateLastSync = "last_sync_time"
)

// JournalKind selects one of the three mutation journals.
type JournalKind int

const (
	KindCreate JournalKind = iota
	KindUpdate
	KindDelete
)

func (k JournalKind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

func (k JournalKind) slot() string {
	switch k {
	case KindCreate:
		return SlotPendingCreates
	case KindUpdate:
		return SlotPendingUpdates
	default:
		return SlotPendingDeletes
	}
}

// Pending holds the three mutation journals as persisted.
type Pending struct {
	Creates []Record
	Updates map[ID]Patch
	Deletes []ID
}

// Store persists the last known snapshot, the mutation journals and sync
// state locally. A corrupt or missing slot reads as empty.
type Store struct {
	db     *sql.DB
	sealer *Sealer
	log    logrus.FieldLogger
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithSealer encrypts every slot at rest.
func WithSealer(s *Sealer) StoreOption {
	return func(st *Store) { st.sealer = s }
}

// WithStoreLogger sets the logger used for corruption warnings.
func WithStoreLogger(l logrus.FieldLogger) StoreOption {
	return func(st *Store) { st.log = l }
}

// OpenStore opens/creates a SQLite database and runs migrations.
func OpenStore(path string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps commits serialized and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s := &Store{db: db, log: defaultLogger()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS slots (
  k TEXT PRIMARY KEY,
  v BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
  k TEXT PRIMARY KEY,
  v TEXT NOT NULL
);
`)
	return err
}

// ReadSnapshot returns the last authoritative record set.
func (s *Store) ReadSnapshot(ctx context.Context) ([]Record, error) {
	return readSlot[[]Record](ctx, s, SlotSnapshot)
}

// WriteSnapshot replaces the stored snapshot.
func (s *Store) WriteSnapshot(ctx context.Context, recs []Record) error {
	var b Batch
	b.PutSnapshot(recs)
	return s.Commit(ctx, b)
}

// ReadJournal returns one journal; only the field matching kind is set.
func (s *Store) ReadJournal(ctx context.Context, kind JournalKind) (Pending, error) {
	var p Pending
	var err error
	switch kind {
	case KindCreate:
		p.Creates, err = readSlot[[]Record](ctx, s, kind.slot())
	case KindUpdate:
		p.Updates, err = readSlot[map[ID]Patch](ctx, s, kind.slot())
	case KindDelete:
		p.Deletes, err = readSlot[[]ID](ctx, s, kind.slot())
	default:
		err = fmt.Errorf("unknown journal kind %d", kind)
	}
	return p, err
}

// WriteJournal replaces one journal from the matching field of p.
func (s *Store) WriteJournal(ctx context.Context, kind JournalKind, p Pending) error {
	var b Batch
	b.PutJournal(kind, p)
	return s.Commit(ctx, b)
}

// ReadPending loads all three journals.
func (s *Store) ReadPending(ctx context.Context) (Pending, error) {
	var out Pending
	for _, kind := range []JournalKind{KindCreate, KindUpdate, KindDelete} {
		p, err := s.ReadJournal(ctx, kind)
		if err != nil {
			return Pending{}, err
		}
		switch kind {
		case KindCreate:
			out.Creates = p.Creates
		case KindUpdate:
			out.Updates = p.Updates
		case KindDelete:
			out.Deletes = p.Deletes
		}
	}
	return out, nil
}

// ReadProfile returns the cached profile, if any.
func (s *Store) ReadProfile(ctx context.Context) (Profile, bool, error) {
	p, err := readSlot[*Profile](ctx, s, SlotProfile)
	if err != nil {
		return Profile{}, false, err
	}
	if p == nil {
		return Profile{}, false, nil
	}
	return *p, true, nil
}

// LastSync returns the time of the last successful fetch, or zero.
func (s *Store) LastSync(ctx context.Context) (time.Time, error) {
	v, err := s.GetState(ctx, stateLastSync, "")
	if err != nil || v == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		s.log.WithField("key", stateLastSync).WithError(err).Warn("ignoring unparsable sync clock")
		return time.Time{}, nil
	}
	return t, nil
}

// GetState fetches sync metadata with default fallback.
func (s *Store) GetState(ctx context.Context, key, def string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM sync_state WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	return v, err
}

// SetState updates sync metadata.
func (s *Store) SetState(ctx context.Context, key, val string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_state(k,v) VALUES(?,?)
ON CONFLICT(k) DO UPDATE SET v=excluded.v`, key, val)
	return err
}

// Batch collects slot writes that Commit applies in one transaction.
type Batch struct {
	slots    map[string]any
	lastSync *time.Time
}

// PutSnapshot stages a snapshot write.
func (b *Batch) PutSnapshot(recs []Record) { b.put(SlotSnapshot, nonNilRecords(recs)) }

// PutJournal stages a write of one journal from the matching field of p.
func (b *Batch) PutJournal(kind JournalKind, p Pending) {
	switch kind {
	case KindCreate:
		b.put(kind.slot(), nonNilRecords(p.Creates))
	case KindUpdate:
		upd := p.Updates
		if upd == nil {
			upd = map[ID]Patch{}
		}
		b.put(kind.slot(), upd)
	case KindDelete:
		del := p.Deletes
		if del == nil {
			del = []ID{}
		}
		b.put(kind.slot(), del)
	}
}

// PutPending stages a write of all three journals.
func (b *Batch) PutPending(p Pending) {
	b.PutJournal(KindCreate, p)
	b.PutJournal(KindUpdate, p)
	b.PutJournal(KindDelete, p)
}

// PutProfile stages a profile write.
func (b *Batch) PutProfile(p Profile) { b.put(SlotProfile, p) }

// SetLastSync stages a sync clock update.
func (b *Batch) SetLastSync(t time.Time) { b.lastSync = &t }

// Empty reports whether nothing is staged.
func (b *Batch) Empty() bool { return len(b.slots) == 0 && b.lastSync == nil }

func (b *Batch) put(slot string, v any) {
	if b.slots == nil {
		b.slots = make(map[string]any, 4)
	}
	b.slots[slot] = v
}

// Commit applies every staged write atomically.
func (s *Store) Commit(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}
	encoded := make(map[string][]byte, len(b.slots))
	for slot, v := range b.slots {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", slot, err)
		}
		if s.sealer != nil {
			raw, err = s.sealer.Seal(slot, raw)
			if err != nil {
				return fmt.Errorf("seal %s: %w", slot, err)
			}
		}
		encoded[slot] = raw
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for slot, raw := range encoded {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO slots(k,v) VALUES(?,?)
ON CONFLICT(k) DO UPDATE SET v=excluded.v`, slot, raw); err != nil {
			return err
		}
	}
	if b.lastSync != nil {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO sync_state(k,v) VALUES(?,?)
ON CONFLICT(k) DO UPDATE SET v=excluded.v`, stateLastSync, b.lastSync.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// readSlot decodes slot. Missing and corrupt slots yield the zero value;
// only database failures are returned.
func readSlot[T any](ctx context.Context, s *Store, slot string) (T, error) {
	var zero T
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM slots WHERE k = ?`, slot).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, nil
	}
	if err != nil {
		return zero, err
	}
	if s.sealer != nil {
		raw, err = s.sealer.Open(slot, raw)
		if err != nil {
			s.warnCorrupt(slot, err)
			return zero, nil
		}
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		s.warnCorrupt(slot, err)
		return zero, nil
	}
	return v, nil
}

func (s *Store) warnCorrupt(slot string, cause error) {
	s.log.WithField("slot", slot).WithError(&CorruptSlotError{Slot: slot, Cause: cause}).
		Warn("discarding unreadable local slot")
}

func nonNilRecords(recs []Record) []Record {
	if recs == nil {
		return []Record{}
	}
	return recs
}
