package models

import (
	"fmt"
	"strings"
	"time"
)

// Action records one proxied push attempt and its review state. It is
// created by chain execution for every push, including pushes that end up
// blocked or errored, and mutated only through the store's authorise,
// reject and cancel transitions.
type Action struct {
	ID         string       `json:"id"`
	URL        string       `json:"url"`
	Repo       string       `json:"repo"`
	Project    string       `json:"project"`
	Branch     string       `json:"branch"`
	CommitFrom string       `json:"commitFrom"`
	CommitTo   string       `json:"commitTo"`
	User       string       `json:"user"`
	Timestamp  time.Time    `json:"timestamp"`
	CommitData []CommitData `json:"commitData,omitempty"`
	Steps      []Step       `json:"steps,omitempty"`

	Error          bool   `json:"error"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	Blocked        bool   `json:"blocked"`
	BlockedMessage string `json:"blockedMessage,omitempty"`
	AllowPush      bool   `json:"allowPush"`
	Authorised     bool   `json:"authorised"`
	Canceled       bool   `json:"canceled"`
	Rejected       bool   `json:"rejected"`
	AutoApproved   bool   `json:"autoApproved"`

	Attestation *Attestation `json:"attestation,omitempty"`
	Rejection   *Rejection   `json:"rejection,omitempty"`
}

// ActionID derives the canonical push id from the old and new commit
// hashes. A new push of the same range maps onto the same record.
func ActionID(commitFrom, commitTo string) string {
	return fmt.Sprintf("%s__%s", commitFrom, commitTo)
}

// Pending reports whether the push still awaits review.
func (a *Action) Pending() bool {
	return !a.Authorised && !a.Canceled && !a.Rejected
}

// Terminal reports whether the push has reached a final review state.
func (a *Action) Terminal() bool {
	return a.Authorised || a.Canceled || a.Rejected
}

// RepoName returns the repository name portion of Repo without the
// trailing ".git", e.g. "finos/git-proxy.git" -> "git-proxy".
func (a *Action) RepoName() string {
	name := a.Repo
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.TrimSuffix(name, ".git")
}

// AddStep appends a pipeline step and folds its outcome into the action's
// decision flags. Error message takes precedence over blocked message.
func (a *Action) AddStep(s Step) {
	a.Steps = append(a.Steps, s)
	if s.Error {
		a.Error = true
		if a.ErrorMessage == "" {
			a.ErrorMessage = s.ErrorMessage
		}
	}
	if s.Blocked {
		a.Blocked = true
		if a.BlockedMessage == "" {
			a.BlockedMessage = s.BlockedMessage
		}
	}
}

// RefusalMessage returns the message a refused client should see, with
// error taking precedence over blocked when both are set.
func (a *Action) RefusalMessage() string {
	if a.Error && a.ErrorMessage != "" {
		return a.ErrorMessage
	}
	if a.Blocked && a.BlockedMessage != "" {
		return a.BlockedMessage
	}
	if a.Error {
		return "Error occurred in proxy filter function"
	}
	return "Push blocked"
}

// Step is the record of one pipeline stage that ran for a push.
type Step struct {
	StepName       string   `json:"stepName"`
	Content        string   `json:"content,omitempty"`
	Logs           []string `json:"logs,omitempty"`
	Error          bool     `json:"error"`
	ErrorMessage   string   `json:"errorMessage,omitempty"`
	Blocked        bool     `json:"blocked"`
	BlockedMessage string   `json:"blockedMessage,omitempty"`
}

// Log appends a log line to the step.
func (s *Step) Log(format string, args ...interface{}) {
	s.Logs = append(s.Logs, fmt.Sprintf(format, args...))
}

// Fail marks the step as errored.
func (s *Step) Fail(message string) {
	s.Error = true
	s.ErrorMessage = message
}

// Block marks the step as blocked with a user-facing message.
func (s *Step) Block(message string) {
	s.Blocked = true
	s.BlockedMessage = message
}

// CommitData is the metadata of one commit carried by a push, in the
// order the pack reported them.
type CommitData struct {
	CommitID       string `json:"commit"`
	Tree           string `json:"tree"`
	Parent         string `json:"parent"`
	Message        string `json:"message"`
	Author         string `json:"author"`
	AuthorEmail    string `json:"authorEmail"`
	Committer      string `json:"committer"`
	CommitterEmail string `json:"committerEmail"`
	CommitTS       int64  `json:"commitTs"`
	AuthorTS       int64  `json:"authorTs"`
}

// Reviewer identifies the user that signed off on a push.
type Reviewer struct {
	Username   string `json:"username"`
	GitAccount string `json:"gitAccount,omitempty"`
}

// Attestation is the structured sign-off captured when a reviewer
// authorises a push.
type Attestation struct {
	ID        string                `json:"id,omitempty"`
	Reviewer  Reviewer              `json:"reviewer"`
	Timestamp time.Time             `json:"timestamp"`
	Questions []AttestationQuestion `json:"questions,omitempty"`
	Signature string                `json:"signature,omitempty"`
}

// AttestationQuestion is one checklist item the reviewer confirmed.
type AttestationQuestion struct {
	Label    string `json:"label"`
	Checked  bool   `json:"checked"`
	Tooltip  string `json:"tooltip,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// Rejection is the optional structured record attached when a reviewer
// rejects a push.
type Rejection struct {
	ID        string    `json:"id,omitempty"`
	Reviewer  Reviewer  `json:"reviewer"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// RepoUsers holds the repository-level role lists. Both lists contain
// lower-cased usernames with no duplicates.
type RepoUsers struct {
	CanPush      []string `json:"canPush" yaml:"canPush"`
	CanAuthorise []string `json:"canAuthorise" yaml:"canAuthorise"`
}

// Repo is a repository registered with the proxy.
type Repo struct {
	Project string    `json:"project" yaml:"project"`
	Name    string    `json:"name" yaml:"name"`
	URL     string    `json:"url" yaml:"url"`
	Users   RepoUsers `json:"users" yaml:"users"`
}

// PushQuery filters GetPushes. The zero value intentionally matches
// nothing useful; use DefaultPushQuery for the pending-review listing.
type PushQuery struct {
	Error      bool
	Blocked    bool
	AllowPush  bool
	Authorised bool
}

// DefaultPushQuery selects pushes that are blocked pending review and not
// yet resolved.
func DefaultPushQuery() PushQuery {
	return PushQuery{Error: false, Blocked: true, AllowPush: false, Authorised: false}
}
