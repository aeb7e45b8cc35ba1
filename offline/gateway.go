package offline

import "context"

// Gateway is the authoritative remote store. Every method fails with an error
// wrapping one of ErrUnauthorized, ErrNotFound, ErrNetworkFailure or
// ErrServerError. Implementations never touch local state.
type Gateway interface {
	// FetchAll returns the full authoritative record list.
	FetchAll(ctx context.Context) ([]Record, error)
	// CreateRemote stores rec and returns it with its server-assigned id.
	// rec.ID holds the local id and is only used as an idempotency key.
	CreateRemote(ctx context.Context, rec Record) (Record, error)
	// UpdateRemote applies p to the record and returns the full result.
	UpdateRemote(ctx context.Context, id ID, p Patch) (Record, error)
	// DeleteRemote removes the record.
	DeleteRemote(ctx context.Context, id ID) error
}

// ProfileGateway reads and writes the signed-in user's profile.
type ProfileGateway interface {
	GetProfile(ctx context.Context) (Profile, error)
	UpdateProfile(ctx context.Context, p Profile) (Profile, error)
}
