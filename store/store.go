// Package store persists Action and Repo records and owns the push
// review state transitions.
package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/pushgate/pushgate/models"
)

// ErrNotFound is returned when a push or repository id does not exist.
// Callers must surface it (HTTP 404 at the API layer), never no-op.
var ErrNotFound = errors.New("record not found")

// PushStore persists push Actions. WriteAudit is the single write path
// used by both the initial chain-produced record and every transition;
// it upserts by id. The transition operations are read-modify-write
// against one record; concurrent transitions on the same id resolve
// last-write-wins.
type PushStore interface {
	WriteAudit(ctx context.Context, action *models.Action) error
	GetPush(ctx context.Context, id string) (*models.Action, error)
	// GetPushes lists pushes matching the query. A nil query selects
	// the pending-review set (blocked, unresolved).
	GetPushes(ctx context.Context, q *models.PushQuery) ([]*models.Action, error)
	Authorise(ctx context.Context, id string, att *models.Attestation) (*models.Action, error)
	Reject(ctx context.Context, id string, rej *models.Rejection) (*models.Action, error)
	Cancel(ctx context.Context, id string) (*models.Action, error)
}

// RepoStore persists repositories registered with the proxy, keyed by
// repository name (no ".git" suffix).
type RepoStore interface {
	AddRepo(ctx context.Context, repo *models.Repo) error
	GetRepo(ctx context.Context, name string) (*models.Repo, error)
	GetRepos(ctx context.Context) ([]*models.Repo, error)
	DeleteRepo(ctx context.Context, name string) error
	AddUserCanPush(ctx context.Context, name, username string) error
	RemoveUserCanPush(ctx context.Context, name, username string) error
	AddUserCanAuthorise(ctx context.Context, name, username string) error
	RemoveUserCanAuthorise(ctx context.Context, name, username string) error
}

// applyAuthorise sets the authorised terminal state. Exactly one of the
// terminal flags holds after any transition.
func applyAuthorise(a *models.Action, att *models.Attestation) {
	a.Authorised = true
	a.Canceled = false
	a.Rejected = false
	a.Attestation = att
}

func applyReject(a *models.Action, rej *models.Rejection) {
	a.Authorised = false
	a.Canceled = false
	a.Rejected = true
	if rej != nil {
		a.Rejection = rej
	}
}

func applyCancel(a *models.Action) {
	a.Authorised = false
	a.Canceled = true
	a.Rejected = false
}
