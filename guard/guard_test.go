package guard

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushgate/pushgate/models"
	"github.com/pushgate/pushgate/store"
)

func setup(t *testing.T) (*Guard, *store.Memory) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.AddRepo(ctx, &models.Repo{
		Project: "finos",
		Name:    "git-proxy",
		URL:     "https://github.com/finos/git-proxy.git",
		Users: models.RepoUsers{
			CanPush:      []string{"alice", "bob"},
			CanAuthorise: []string{"carol", "alice"},
		},
	}))
	require.NoError(t, mem.WriteAudit(ctx, &models.Action{
		ID:        "aaa__bbb",
		Repo:      "finos/git-proxy.git",
		User:      "alice",
		Blocked:   true,
		Timestamp: time.Now(),
	}))
	return New(mem, mem), mem
}

func TestApproveRequiresCanAuthorise(t *testing.T) {
	g, _ := setup(t)
	ctx := context.Background()

	ok, err := g.CanUserApproveRejectPush(ctx, "aaa__bbb", "carol")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.CanUserApproveRejectPush(ctx, "aaa__bbb", "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNoSelfApproval(t *testing.T) {
	g, _ := setup(t)

	// alice is in canAuthorise but pushed aaa__bbb herself.
	ok, err := g.CanUserApproveRejectPush(context.Background(), "aaa__bbb", "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	// Case differences do not defeat the check.
	ok, err = g.CanUserApproveRejectPush(context.Background(), "aaa__bbb", "Alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelRequiresCanPush(t *testing.T) {
	g, _ := setup(t)
	ctx := context.Background()

	ok, err := g.CanUserCancelPush(ctx, "aaa__bbb", "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.CanUserCancelPush(ctx, "aaa__bbb", "carol")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnknownPushPropagatesNotFound(t *testing.T) {
	g, _ := setup(t)

	_, err := g.CanUserApproveRejectPush(context.Background(), "nope", "carol")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	_, err = g.CanUserCancelPush(context.Background(), "nope", "bob")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
