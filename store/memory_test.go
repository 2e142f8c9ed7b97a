package store

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushgate/pushgate/models"
)

func pendingAction(id string) *models.Action {
	return &models.Action{
		ID:        id,
		Repo:      "finos/git-proxy.git",
		Branch:    "main",
		User:      "alice",
		Blocked:   true,
		Timestamp: time.Now(),
	}
}

func TestWriteAuditUpsertsByID(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	a := pendingAction("a__b")
	require.NoError(t, mem.WriteAudit(ctx, a))

	a.BlockedMessage = "pending review"
	require.NoError(t, mem.WriteAudit(ctx, a))

	got, err := mem.GetPush(ctx, "a__b")
	require.NoError(t, err)
	assert.Equal(t, "pending review", got.BlockedMessage)

	all, err := mem.GetPushes(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAuthoriseIsIdempotent(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.WriteAudit(ctx, pendingAction("a__b")))

	att := &models.Attestation{
		Reviewer:  models.Reviewer{Username: "carol"},
		Timestamp: time.Now(),
	}
	for i := 0; i < 2; i++ {
		got, err := mem.Authorise(ctx, "a__b", att)
		require.NoError(t, err)
		assert.True(t, got.Authorised)
		assert.False(t, got.Canceled)
		assert.False(t, got.Rejected)
		require.NotNil(t, got.Attestation)
		assert.Equal(t, "carol", got.Attestation.Reviewer.Username)
	}
}

func TestTerminalStateInvariant(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.WriteAudit(ctx, pendingAction("a__b")))

	// Any interleaving of transitions leaves at most one terminal flag.
	transitions := []func() (*models.Action, error){
		func() (*models.Action, error) { return mem.Authorise(ctx, "a__b", &models.Attestation{}) },
		func() (*models.Action, error) { return mem.Reject(ctx, "a__b", nil) },
		func() (*models.Action, error) { return mem.Cancel(ctx, "a__b") },
		func() (*models.Action, error) { return mem.Reject(ctx, "a__b", &models.Rejection{Reason: "no"}) },
		func() (*models.Action, error) { return mem.Authorise(ctx, "a__b", &models.Attestation{}) },
	}
	for _, transition := range transitions {
		got, err := transition()
		require.NoError(t, err)
		set := 0
		for _, flag := range []bool{got.Authorised, got.Canceled, got.Rejected} {
			if flag {
				set++
			}
		}
		assert.Equal(t, 1, set)
	}
}

func TestTransitionsOnMissingPush(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	_, err := mem.Authorise(ctx, "nope", &models.Attestation{})
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = mem.Reject(ctx, "nope", nil)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = mem.Cancel(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = mem.GetPush(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetPushesDefaultsToPendingReview(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.WriteAudit(ctx, pendingAction("pending__1")))

	allowed := pendingAction("allowed__1")
	allowed.Blocked = false
	allowed.AllowPush = true
	require.NoError(t, mem.WriteAudit(ctx, allowed))

	errored := pendingAction("errored__1")
	errored.Error = true
	require.NoError(t, mem.WriteAudit(ctx, errored))

	authorised := pendingAction("authorised__1")
	authorised.Authorised = true
	require.NoError(t, mem.WriteAudit(ctx, authorised))

	got, err := mem.GetPushes(ctx, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pending__1", got[0].ID)
	assert.False(t, got[0].Error)
	assert.True(t, got[0].Blocked)
	assert.False(t, got[0].AllowPush)
	assert.False(t, got[0].Authorised)
}

func TestRepoUserLists(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.AddRepo(ctx, &models.Repo{
		Name: "git-proxy",
		URL:  "https://github.com/finos/git-proxy.git",
		Users: models.RepoUsers{
			// Mixed case and duplicates normalize away.
			CanPush: []string{"Alice", "alice", "BOB"},
		},
	}))

	repo, err := mem.GetRepo(ctx, "git-proxy")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, repo.Users.CanPush)

	require.NoError(t, mem.AddUserCanAuthorise(ctx, "git-proxy", "Carol"))
	require.NoError(t, mem.AddUserCanAuthorise(ctx, "git-proxy", "carol"))
	repo, err = mem.GetRepo(ctx, "git-proxy")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, repo.Users.CanAuthorise)

	require.NoError(t, mem.RemoveUserCanPush(ctx, "git-proxy", "ALICE"))
	repo, err = mem.GetRepo(ctx, "git-proxy")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, repo.Users.CanPush)

	require.NoError(t, mem.DeleteRepo(ctx, "git-proxy"))
	_, err = mem.GetRepo(ctx, "git-proxy")
	assert.True(t, errors.Is(err, ErrNotFound))
}
