package store

import (
	"context"
	"database/sql"
	"encoding/json"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/pushgate/pushgate/models"
)

// Postgres backs the push and repo stores with a PostgreSQL database.
// Transitions take a row lock so concurrent writes to the same push id
// serialize at the storage layer; cross-record transactions are not
// needed anywhere.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres opens a connection pool with the given connection string.
func OpenPostgres(connectionString string) (*Postgres, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, errors.Wrap(err, "open database connection")
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

var (
	_ PushStore = (*Postgres)(nil)
	_ RepoStore = (*Postgres)(nil)
)

func (p *Postgres) Close() error {
	return p.db.Close()
}

func toJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func fromJSON(raw []byte, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

const pushColumns = `id, url, repo, project, branch, commit_from, commit_to,
	pusher, created, commit_data, steps, error, error_message, blocked,
	blocked_message, allow_push, authorised, canceled, rejected,
	auto_approved, attestation, rejection`

func (p *Postgres) WriteAudit(ctx context.Context, a *models.Action) error {
	commitData, err := toJSON(a.CommitData)
	if err != nil {
		return errors.Wrap(err, "marshal commit data")
	}
	steps, err := toJSON(a.Steps)
	if err != nil {
		return errors.Wrap(err, "marshal steps")
	}
	attestation, err := toJSON(a.Attestation)
	if err != nil {
		return errors.Wrap(err, "marshal attestation")
	}
	rejection, err := toJSON(a.Rejection)
	if err != nil {
		return errors.Wrap(err, "marshal rejection")
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO push_action (
			id, url, repo, project, branch, commit_from, commit_to,
			pusher, created, commit_data, steps, error, error_message,
			blocked, blocked_message, allow_push, authorised, canceled,
			rejected, auto_approved, attestation, rejection
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22
		)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			repo = EXCLUDED.repo,
			project = EXCLUDED.project,
			branch = EXCLUDED.branch,
			commit_from = EXCLUDED.commit_from,
			commit_to = EXCLUDED.commit_to,
			pusher = EXCLUDED.pusher,
			created = EXCLUDED.created,
			commit_data = EXCLUDED.commit_data,
			steps = EXCLUDED.steps,
			error = EXCLUDED.error,
			error_message = EXCLUDED.error_message,
			blocked = EXCLUDED.blocked,
			blocked_message = EXCLUDED.blocked_message,
			allow_push = EXCLUDED.allow_push,
			authorised = EXCLUDED.authorised,
			canceled = EXCLUDED.canceled,
			rejected = EXCLUDED.rejected,
			auto_approved = EXCLUDED.auto_approved,
			attestation = EXCLUDED.attestation,
			rejection = EXCLUDED.rejection;`,
		a.ID, a.URL, a.Repo, a.Project, a.Branch, a.CommitFrom, a.CommitTo,
		a.User, a.Timestamp, commitData, steps, a.Error, a.ErrorMessage,
		a.Blocked, a.BlockedMessage, a.AllowPush, a.Authorised, a.Canceled,
		a.Rejected, a.AutoApproved, attestation, rejection)
	if err != nil {
		return errors.Wrapf(err, "upsert push %s", a.ID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (*models.Action, error) {
	var (
		a           models.Action
		commitData  []byte
		steps       []byte
		attestation []byte
		rejection   []byte
	)
	err := row.Scan(&a.ID, &a.URL, &a.Repo, &a.Project, &a.Branch,
		&a.CommitFrom, &a.CommitTo, &a.User, &a.Timestamp, &commitData,
		&steps, &a.Error, &a.ErrorMessage, &a.Blocked, &a.BlockedMessage,
		&a.AllowPush, &a.Authorised, &a.Canceled, &a.Rejected,
		&a.AutoApproved, &attestation, &rejection)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(commitData, &a.CommitData); err != nil {
		return nil, errors.Wrap(err, "unmarshal commit data")
	}
	if err := fromJSON(steps, &a.Steps); err != nil {
		return nil, errors.Wrap(err, "unmarshal steps")
	}
	if err := fromJSON(attestation, &a.Attestation); err != nil {
		return nil, errors.Wrap(err, "unmarshal attestation")
	}
	if err := fromJSON(rejection, &a.Rejection); err != nil {
		return nil, errors.Wrap(err, "unmarshal rejection")
	}
	return &a, nil
}

func (p *Postgres) GetPush(ctx context.Context, id string) (*models.Action, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+pushColumns+` FROM push_action WHERE id = $1;`, id)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "push %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fetch push %s", id)
	}
	return a, nil
}

func (p *Postgres) GetPushes(ctx context.Context, q *models.PushQuery) ([]*models.Action, error) {
	query := models.DefaultPushQuery()
	if q != nil {
		query = *q
	}
	stmt, args, err := sq.Select(pushColumns).
		From("push_action").
		Where(sq.Eq{
			"error":      query.Error,
			"blocked":    query.Blocked,
			"allow_push": query.AllowPush,
			"authorised": query.Authorised,
		}).
		OrderBy("created DESC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build push query")
	}

	rows, err := p.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query pushes")
	}
	defer rows.Close()

	var out []*models.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan push row")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// transition loads the push under a row lock, applies f, and writes the
// review flags back.
func (p *Postgres) transition(ctx context.Context, id string, f func(*models.Action) error) (*models.Action, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+pushColumns+` FROM push_action WHERE id = $1 FOR UPDATE;`, id)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "push %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fetch push %s", id)
	}

	if err := f(a); err != nil {
		return nil, err
	}

	attestation, err := toJSON(a.Attestation)
	if err != nil {
		return nil, errors.Wrap(err, "marshal attestation")
	}
	rejection, err := toJSON(a.Rejection)
	if err != nil {
		return nil, errors.Wrap(err, "marshal rejection")
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE push_action
		SET authorised = $2, canceled = $3, rejected = $4,
			attestation = $5, rejection = $6
		WHERE id = $1;`,
		id, a.Authorised, a.Canceled, a.Rejected,
		attestation, rejection); err != nil {
		return nil, errors.Wrapf(err, "update push %s", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit transaction")
	}
	return a, nil
}

func (p *Postgres) Authorise(ctx context.Context, id string, att *models.Attestation) (*models.Action, error) {
	return p.transition(ctx, id, func(a *models.Action) error {
		applyAuthorise(a, att)
		return nil
	})
}

func (p *Postgres) Reject(ctx context.Context, id string, rej *models.Rejection) (*models.Action, error) {
	return p.transition(ctx, id, func(a *models.Action) error {
		applyReject(a, rej)
		return nil
	})
}

func (p *Postgres) Cancel(ctx context.Context, id string) (*models.Action, error) {
	return p.transition(ctx, id, func(a *models.Action) error {
		applyCancel(a)
		return nil
	})
}

func (p *Postgres) AddRepo(ctx context.Context, repo *models.Repo) error {
	cp := *repo
	normalizeRepoUsers(&cp)
	canPush, err := toJSON(cp.Users.CanPush)
	if err != nil {
		return errors.Wrap(err, "marshal canPush")
	}
	canAuthorise, err := toJSON(cp.Users.CanAuthorise)
	if err != nil {
		return errors.Wrap(err, "marshal canAuthorise")
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO repo (name, project, url, can_push, can_authorise)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			project = EXCLUDED.project,
			url = EXCLUDED.url,
			can_push = EXCLUDED.can_push,
			can_authorise = EXCLUDED.can_authorise;`,
		cp.Name, cp.Project, cp.URL, canPush, canAuthorise)
	return errors.Wrapf(err, "upsert repo %s", cp.Name)
}

func scanRepo(row rowScanner) (*models.Repo, error) {
	var (
		r            models.Repo
		canPush      []byte
		canAuthorise []byte
	)
	if err := row.Scan(&r.Name, &r.Project, &r.URL, &canPush, &canAuthorise); err != nil {
		return nil, err
	}
	if err := fromJSON(canPush, &r.Users.CanPush); err != nil {
		return nil, errors.Wrap(err, "unmarshal canPush")
	}
	if err := fromJSON(canAuthorise, &r.Users.CanAuthorise); err != nil {
		return nil, errors.Wrap(err, "unmarshal canAuthorise")
	}
	return &r, nil
}

func (p *Postgres) GetRepo(ctx context.Context, name string) (*models.Repo, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT name, project, url, can_push, can_authorise FROM repo WHERE name = $1;`, name)
	r, err := scanRepo(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "repo %s", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fetch repo %s", name)
	}
	return r, nil
}

func (p *Postgres) GetRepos(ctx context.Context) ([]*models.Repo, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT name, project, url, can_push, can_authorise FROM repo ORDER BY name;`)
	if err != nil {
		return nil, errors.Wrap(err, "query repos")
	}
	defer rows.Close()

	var out []*models.Repo
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan repo row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteRepo(ctx context.Context, name string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM repo WHERE name = $1;`, name)
	if err != nil {
		return errors.Wrapf(err, "delete repo %s", name)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "repo %s", name)
	}
	return nil
}

func (p *Postgres) editRepo(ctx context.Context, name string, f func(*models.Repo)) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT name, project, url, can_push, can_authorise FROM repo WHERE name = $1 FOR UPDATE;`, name)
	r, err := scanRepo(row)
	if err == sql.ErrNoRows {
		return errors.Wrapf(ErrNotFound, "repo %s", name)
	}
	if err != nil {
		return errors.Wrapf(err, "fetch repo %s", name)
	}

	f(r)

	canPush, err := toJSON(r.Users.CanPush)
	if err != nil {
		return errors.Wrap(err, "marshal canPush")
	}
	canAuthorise, err := toJSON(r.Users.CanAuthorise)
	if err != nil {
		return errors.Wrap(err, "marshal canAuthorise")
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE repo SET can_push = $2, can_authorise = $3 WHERE name = $1;`,
		name, canPush, canAuthorise); err != nil {
		return errors.Wrapf(err, "update repo %s", name)
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

func (p *Postgres) AddUserCanPush(ctx context.Context, name, username string) error {
	return p.editRepo(ctx, name, func(r *models.Repo) {
		r.Users.CanPush = addUser(r.Users.CanPush, username)
	})
}

func (p *Postgres) RemoveUserCanPush(ctx context.Context, name, username string) error {
	return p.editRepo(ctx, name, func(r *models.Repo) {
		r.Users.CanPush = removeUser(r.Users.CanPush, username)
	})
}

func (p *Postgres) AddUserCanAuthorise(ctx context.Context, name, username string) error {
	return p.editRepo(ctx, name, func(r *models.Repo) {
		r.Users.CanAuthorise = addUser(r.Users.CanAuthorise, username)
	})
}

func (p *Postgres) RemoveUserCanAuthorise(ctx context.Context, name, username string) error {
	return p.editRepo(ctx, name, func(r *models.Repo) {
		r.Users.CanAuthorise = removeUser(r.Users.CanAuthorise, username)
	})
}
