package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/pushgate/pushgate/models"
)

// Memory is an in-process store used by tests and single-node
// deployments that have no database configured. The mutex serializes all
// writes, which trivially satisfies the per-record write ordering the
// Postgres store gets from row locks.
type Memory struct {
	mu     sync.RWMutex
	pushes map[string]*models.Action
	repos  map[string]*models.Repo
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		pushes: make(map[string]*models.Action),
		repos:  make(map[string]*models.Repo),
	}
}

var (
	_ PushStore = (*Memory)(nil)
	_ RepoStore = (*Memory)(nil)
)

func (m *Memory) WriteAudit(ctx context.Context, action *models.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *action
	m.pushes[action.ID] = &cp
	return nil
}

func (m *Memory) GetPush(ctx context.Context, id string) (*models.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.pushes[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "push %s", id)
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) GetPushes(ctx context.Context, q *models.PushQuery) ([]*models.Action, error) {
	query := models.DefaultPushQuery()
	if q != nil {
		query = *q
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Action
	for _, a := range m.pushes {
		if a.Error == query.Error && a.Blocked == query.Blocked &&
			a.AllowPush == query.AllowPush && a.Authorised == query.Authorised {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (m *Memory) transition(id string, f func(*models.Action)) (*models.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.pushes[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "push %s", id)
	}
	f(a)
	cp := *a
	return &cp, nil
}

func (m *Memory) Authorise(ctx context.Context, id string, att *models.Attestation) (*models.Action, error) {
	return m.transition(id, func(a *models.Action) { applyAuthorise(a, att) })
}

func (m *Memory) Reject(ctx context.Context, id string, rej *models.Rejection) (*models.Action, error) {
	return m.transition(id, func(a *models.Action) { applyReject(a, rej) })
}

func (m *Memory) Cancel(ctx context.Context, id string) (*models.Action, error) {
	return m.transition(id, func(a *models.Action) { applyCancel(a) })
}

func (m *Memory) AddRepo(ctx context.Context, repo *models.Repo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *repo
	normalizeRepoUsers(&cp)
	m.repos[cp.Name] = &cp
	return nil
}

func (m *Memory) GetRepo(ctx context.Context, name string) (*models.Repo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.repos[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "repo %s", name)
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) GetRepos(ctx context.Context) ([]*models.Repo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Repo, 0, len(m.repos))
	for _, r := range m.repos {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) DeleteRepo(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repos[name]; !ok {
		return errors.Wrapf(ErrNotFound, "repo %s", name)
	}
	delete(m.repos, name)
	return nil
}

func (m *Memory) editRepo(name string, f func(*models.Repo)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[name]
	if !ok {
		return errors.Wrapf(ErrNotFound, "repo %s", name)
	}
	f(r)
	return nil
}

func (m *Memory) AddUserCanPush(ctx context.Context, name, username string) error {
	return m.editRepo(name, func(r *models.Repo) {
		r.Users.CanPush = addUser(r.Users.CanPush, username)
	})
}

func (m *Memory) RemoveUserCanPush(ctx context.Context, name, username string) error {
	return m.editRepo(name, func(r *models.Repo) {
		r.Users.CanPush = removeUser(r.Users.CanPush, username)
	})
}

func (m *Memory) AddUserCanAuthorise(ctx context.Context, name, username string) error {
	return m.editRepo(name, func(r *models.Repo) {
		r.Users.CanAuthorise = addUser(r.Users.CanAuthorise, username)
	})
}

func (m *Memory) RemoveUserCanAuthorise(ctx context.Context, name, username string) error {
	return m.editRepo(name, func(r *models.Repo) {
		r.Users.CanAuthorise = removeUser(r.Users.CanAuthorise, username)
	})
}

// Role lists hold lower-cased usernames with no duplicates.
func addUser(list []string, username string) []string {
	username = strings.ToLower(username)
	for _, u := range list {
		if u == username {
			return list
		}
	}
	return append(list, username)
}

func removeUser(list []string, username string) []string {
	username = strings.ToLower(username)
	out := list[:0]
	for _, u := range list {
		if u != username {
			out = append(out, u)
		}
	}
	return out
}

func normalizeRepoUsers(r *models.Repo) {
	var push, auth []string
	for _, u := range r.Users.CanPush {
		push = addUser(push, u)
	}
	for _, u := range r.Users.CanAuthorise {
		auth = addUser(auth, u)
	}
	r.Users.CanPush = push
	r.Users.CanAuthorise = auth
}
