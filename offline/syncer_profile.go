package offline

import (
	"context"
	"fmt"
)

// Profile returns the user's profile. Online it is read from the server and
// cached locally; offline, or when the read fails, the cached copy is used.
func (s *Syncer) Profile(ctx context.Context) (Profile, error) {
	store := s.journal.store
	if s.profiles == nil {
		return Profile{}, fmt.Errorf("profile: %w", ErrNotConfigured)
	}

	if s.Online() {
		p, err := s.profiles.GetProfile(ctx)
		if err == nil {
			var b Batch
			b.PutProfile(p)
			if cerr := store.Commit(ctx, b); cerr != nil {
				s.log.WithError(cerr).Warn("could not cache profile")
			}
			return p, nil
		}
		if Classify(err) == FailureUnauthorized {
			return Profile{}, err
		}
		s.log.WithError(err).Info("profile fetch failed; using cached copy")
		cached, ok, rerr := store.ReadProfile(ctx)
		if rerr != nil || !ok {
			return Profile{}, err
		}
		return cached, nil
	}

	cached, ok, err := store.ReadProfile(ctx)
	if err != nil {
		return Profile{}, err
	}
	if !ok {
		return Profile{}, fmt.Errorf("profile: %w", ErrOffline)
	}
	return cached, nil
}

// SaveProfile writes p remotely and caches the stored result. Profile edits
// are not journaled, so it fails with ErrOffline when offline.
func (s *Syncer) SaveProfile(ctx context.Context, p Profile) (Profile, error) {
	if s.profiles == nil {
		return Profile{}, fmt.Errorf("profile: %w", ErrNotConfigured)
	}
	if !s.Online() {
		return Profile{}, fmt.Errorf("profile: %w", ErrOffline)
	}
	out, err := s.profiles.UpdateProfile(ctx, p)
	if err != nil {
		return Profile{}, err
	}
	var b Batch
	b.PutProfile(out)
	if err := s.journal.store.Commit(ctx, b); err != nil {
		return out, fmt.Errorf("cache profile: %w", err)
	}
	return out, nil
}
