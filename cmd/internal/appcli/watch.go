package appcli

import (
	"context"
	"errors"
	"sync"

	"github.com/harperreed/tasksync/offline"
)

// Watch feeds connectivity events into the monitor until ctx is done. A
// status file and a health prober can be combined; with neither configured
// the server is probed every 30s. Every reconnect starts a sync cycle.
func (a *App) Watch(ctx context.Context) error {
	if !a.client.Configured() {
		return offline.ErrNotConfigured
	}

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	run := func(fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs <- err
			}
		}()
	}

	if a.cfg.StatusFile != "" {
		src := offline.NewFileSource(a.cfg.StatusFile, a.log)
		run(src.Run)
		run(func(ctx context.Context) error { return a.monitor.Run(ctx, src.Events()) })
	}
	if a.cfg.StatusFile == "" || a.cfg.ProbeInterval > 0 {
		prober := offline.NewProber(a.client, a.monitor, a.cfg.ProbeInterval, a.log)
		run(prober.Run)
	}

	if a.monitor.IsOnline() {
		a.syncer.Trigger()
	}

	wg.Wait()
	close(errs)
	return errors.Join(drain(errs)...)
}

func drain(ch <-chan error) []error {
	var out []error
	for err := range ch {
		out = append(out, err)
	}
	return out
}
