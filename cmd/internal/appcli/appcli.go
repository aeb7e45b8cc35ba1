package appcli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/harperreed/tasksync/offline"
)

// Task field names used by the CLI.
const (
	FieldTitle     = "title"
	FieldCompleted = "completed"
	FieldNotes     = "notes"
)

// App glues the CLI to the offline sync engine.
type App struct {
	cfg     Config
	log     logrus.FieldLogger
	store   *offline.Store
	client  *offline.Client
	monitor *offline.Monitor
	syncer  *offline.Syncer
}

// NewApp opens the local store, restores the journal and wires the syncer.
// The app starts online when a server is configured; the watch command
// feeds real connectivity events.
func NewApp(ctx context.Context, cfg Config, log logrus.FieldLogger, opts ...offline.Option) (*App, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("db path required")
	}
	if err := ensureDir(cfg.DBPath); err != nil {
		return nil, err
	}

	storeOpts := []offline.StoreOption{offline.WithStoreLogger(log)}
	key, sealed, err := cfg.Key()
	if err != nil {
		return nil, err
	}
	if sealed {
		storeOpts = append(storeOpts, offline.WithSealer(offline.NewSealer(key)))
	}
	store, err := offline.OpenStore(cfg.DBPath, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	journal, err := offline.LoadJournal(ctx, store, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	client := offline.NewClient(offline.Config{
		BaseURL:   cfg.ServerURL,
		DeviceID:  cfg.DeviceID,
		AuthToken: cfg.AuthToken,
		Timeout:   cfg.Timeout,
		Rate:      offline.DefaultRateLimit(),
	})
	monitor := offline.NewMonitor(client.Configured(), log)
	syncer := offline.NewSyncer(journal, client, monitor, append([]offline.Option{offline.WithLogger(log)}, opts...)...)

	return &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		client:  client,
		monitor: monitor,
		syncer:  syncer,
	}, nil
}

// Close waits for background work and releases the store.
func (a *App) Close() error {
	a.syncer.Close()
	a.monitor.Wait()
	return a.store.Close()
}

// Monitor exposes the connectivity monitor.
func (a *App) Monitor() *offline.Monitor { return a.monitor }

// Add creates a task.
func (a *App) Add(ctx context.Context, title, notes string) (offline.Record, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return offline.Record{}, errors.New("title required")
	}
	fields := offline.Fields{FieldTitle: title, FieldCompleted: false}
	if notes != "" {
		fields[FieldNotes] = notes
	}
	return a.syncer.Create(ctx, fields)
}

// Edit applies a partial update to the task matching ref.
func (a *App) Edit(ctx context.Context, ref string, p offline.Patch) (offline.Record, error) {
	rec, err := a.Find(ref)
	if err != nil {
		return offline.Record{}, err
	}
	if p.IsEmpty() {
		return rec, nil
	}
	return a.syncer.Update(ctx, rec.ID, p)
}

// SetDone marks the task matching ref complete or incomplete.
func (a *App) SetDone(ctx context.Context, ref string, done bool) (offline.Record, error) {
	return a.Edit(ctx, ref, offline.Patch{}.Set(FieldCompleted, done))
}

// Remove deletes the task matching ref.
func (a *App) Remove(ctx context.Context, ref string) error {
	rec, err := a.Find(ref)
	if err != nil {
		return err
	}
	return a.syncer.Delete(ctx, rec.ID)
}

// List returns the effective tasks, open ones first, then by creation time.
func (a *App) List() []offline.Record {
	recs := a.syncer.Records()
	sort.SliceStable(recs, func(i, j int) bool {
		ci, cj := isDone(recs[i]), isDone(recs[j])
		if ci != cj {
			return !ci
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	return recs
}

// Find resolves ref as an exact id or a unique id prefix.
func (a *App) Find(ref string) (offline.Record, error) {
	if ref == "" {
		return offline.Record{}, errors.New("task id required")
	}
	if rec, ok := a.syncer.Get(offline.ID(ref)); ok {
		return rec, nil
	}
	var match []offline.Record
	for _, r := range a.syncer.Records() {
		if strings.HasPrefix(string(r.ID), ref) {
			match = append(match, r)
		}
	}
	switch len(match) {
	case 0:
		return offline.Record{}, fmt.Errorf("task %s: %w", ref, offline.ErrUnknownRecord)
	case 1:
		return match[0], nil
	default:
		return offline.Record{}, fmt.Errorf("task id %q is ambiguous (%d matches)", ref, len(match))
	}
}

// Sync runs one full cycle.
func (a *App) Sync(ctx context.Context) (offline.Report, error) {
	if !a.client.Configured() {
		return offline.Report{}, fmt.Errorf("server_url and auth_token required for sync: %w", offline.ErrNotConfigured)
	}
	return a.syncer.Sync(ctx)
}

// Status returns the engine status.
func (a *App) Status() offline.Status {
	return a.syncer.Status()
}

// Profile returns the user profile.
func (a *App) Profile(ctx context.Context) (offline.Profile, error) {
	return a.syncer.Profile(ctx)
}

// SaveProfile updates the named profile fields.
func (a *App) SaveProfile(ctx context.Context, name, email string) (offline.Profile, error) {
	p, err := a.syncer.Profile(ctx)
	if err != nil {
		return offline.Profile{}, err
	}
	if name != "" {
		p.Name = name
	}
	if email != "" {
		p.Email = email
	}
	return a.syncer.SaveProfile(ctx, p)
}

func isDone(r offline.Record) bool {
	done, _ := r.Fields[FieldCompleted].(bool)
	return done
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o750)
}
