// Package chain defines the policy pipeline boundary the proxy filter
// calls into, plus the built-in capture stage that turns a proxied push
// into a persisted Action awaiting review. Content-level policy stages
// (diff scanning, signature checks) plug in behind the Executor
// interface; the proxy only reads the decision flags off the result.
package chain

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pushgate/pushgate/archive"
	"github.com/pushgate/pushgate/giturl"
	"github.com/pushgate/pushgate/models"
	"github.com/pushgate/pushgate/notify"
	"github.com/pushgate/pushgate/pack"
	"github.com/pushgate/pushgate/store"
)

// Capture is the classified request handed to the chain: enough to
// identify the repository and operation, plus the teed body bytes for
// pack POSTs.
type Capture struct {
	// URL is the canonical remote URL of the repository at the upstream.
	URL string
	// RepoPath is the repository portion of the request path, through
	// ".git".
	RepoPath string
	// GitPath is the Git operation suffix of the request path.
	GitPath string
	// Method is the HTTP method.
	Method string
	// User is the pusher identity, when the request carried one.
	User string
	// Pack holds the request body for pack POSTs, nil otherwise.
	Pack []byte
}

// IsPush reports whether the capture is a git-receive-pack POST.
func (c *Capture) IsPush() bool {
	return c.Method == "POST" && strings.HasSuffix(c.GitPath, "/git-receive-pack")
}

// Executor runs the policy pipeline over a captured request and returns
// its Action. The filter reads error, errorMessage, blocked and
// blockedMessage from the result; everything else is audit detail.
type Executor interface {
	Exec(ctx context.Context, capture *Capture) (*models.Action, error)
}

// CaptureExecutor is the built-in pipeline: it parses pushes, persists
// an audit Action for each one, and holds unreviewed pushes by marking
// them blocked. A previously authorised push of the same commit range is
// waved through.
type CaptureExecutor struct {
	Pushes   store.PushStore
	Notifier *notify.Publisher
	Archiver *archive.Archiver
	Logger   *log.Logger
}

var _ Executor = (*CaptureExecutor)(nil)

func (e *CaptureExecutor) Exec(ctx context.Context, c *Capture) (*models.Action, error) {
	action := &models.Action{
		URL:       c.URL,
		Repo:      strings.TrimPrefix(c.RepoPath, "/"),
		User:      c.User,
		Timestamp: time.Now().UTC(),
	}
	if nameOrg, ok := giturl.ProcessNameAndOrg(c.URL); ok {
		action.Project = nameOrg.Project
	}

	// Fetches and ref advertisements pass through unrecorded; only
	// pushes are held for review.
	if !c.IsPush() {
		action.AllowPush = true
		return action, nil
	}

	step := models.Step{StepName: "parsePush"}
	push, err := pack.Parse(c.Pack)
	if err != nil {
		e.Logger.Printf("Failed to parse push to %s: %v", action.Repo, err)
		step.Fail("Unable to parse push")
		action.ID = models.ActionID("unparsed", action.Timestamp.Format("20060102150405.000000000"))
		action.AddStep(step)
		if err := e.Pushes.WriteAudit(ctx, action); err != nil {
			return nil, errors.Wrap(err, "record unparsable push")
		}
		return action, nil
	}

	first := push.Commands[0]
	action.CommitFrom = first.Old
	action.CommitTo = first.New
	action.Branch = push.Branch()
	action.CommitData = push.Commits
	action.ID = models.ActionID(first.Old, first.New)
	step.Log("captured %d commands, %d commits for %s",
		len(push.Commands), len(push.Commits), action.Branch)

	existing, err := e.Pushes.GetPush(ctx, action.ID)
	switch {
	case err == nil && existing.Authorised:
		// Reviewed and approved; let this attempt through.
		action.Authorised = true
		action.AllowPush = true
		action.Attestation = existing.Attestation
		step.Log("push %s already authorised, allowing", action.ID)
	case err == nil && existing.Rejected:
		msg := "Your push has been rejected by a reviewer"
		if existing.Rejection != nil && existing.Rejection.Reason != "" {
			msg += ": " + existing.Rejection.Reason
		}
		action.Rejected = true
		action.Rejection = existing.Rejection
		step.Block(msg)
	case err == nil || errors.Is(err, store.ErrNotFound):
		// New push, or a canceled one being retried: hold for review.
		step.Block("Your push to " + action.Repo + " has been held for review.\n" +
			"\tA repository approver can release it; quote push id " + action.ID)
	default:
		return nil, errors.Wrapf(err, "look up push %s", action.ID)
	}
	action.AddStep(step)

	if err := e.Pushes.WriteAudit(ctx, action); err != nil {
		return nil, errors.Wrapf(err, "record push %s", action.ID)
	}

	if action.Pending() && action.Blocked {
		e.Notifier.Publish(ctx, notify.EventPushPending, action)
		e.Archiver.SchedulePack(action, c.Pack)
	}
	return action, nil
}
