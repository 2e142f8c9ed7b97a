// Package guard gates who may act on a push under review.
package guard

import (
	"context"
	"strings"

	"github.com/pushgate/pushgate/store"
)

// Guard answers permission questions about the review workflow from the
// repository role lists. It holds no state of its own.
type Guard struct {
	Pushes store.PushStore
	Repos  store.RepoStore
}

// New returns a guard backed by the given stores.
func New(pushes store.PushStore, repos store.RepoStore) *Guard {
	return &Guard{Pushes: pushes, Repos: repos}
}

// CanUserApproveRejectPush reports whether user may authorise or reject
// the push. Self-approval is forbidden regardless of role; otherwise the
// user must appear in the repository's canAuthorise list.
func (g *Guard) CanUserApproveRejectPush(ctx context.Context, pushID, user string) (bool, error) {
	push, err := g.Pushes.GetPush(ctx, pushID)
	if err != nil {
		return false, err
	}
	if strings.EqualFold(push.User, user) {
		return false, nil
	}
	repo, err := g.Repos.GetRepo(ctx, push.RepoName())
	if err != nil {
		return false, err
	}
	return contains(repo.Users.CanAuthorise, user), nil
}

// CanUserCancelPush reports whether user may cancel the push: anyone who
// can push to the repository can cancel. Authorship is not checked here;
// callers wanting self-cancel-only semantics combine this with their own
// authorship check.
func (g *Guard) CanUserCancelPush(ctx context.Context, pushID, user string) (bool, error) {
	push, err := g.Pushes.GetPush(ctx, pushID)
	if err != nil {
		return false, err
	}
	repo, err := g.Repos.GetRepo(ctx, push.RepoName())
	if err != nil {
		return false, err
	}
	return contains(repo.Users.CanPush, user), nil
}

// Role lists are stored lower-cased.
func contains(list []string, user string) bool {
	user = strings.ToLower(user)
	for _, u := range list {
		if u == user {
			return true
		}
	}
	return false
}
