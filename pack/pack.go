// Package pack inspects captured git-receive-pack request bodies: the
// pkt-line command list followed by the packfile. The proxy uses it to
// record what a push contains before deciding its fate; it never
// modifies the bytes that go upstream.
package pack

import (
	"bytes"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/packfile"
	"github.com/go-git/go-git/v5/plumbing/format/pktline"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/pkg/errors"

	"github.com/pushgate/pushgate/models"
)

// ZeroHash is the all-zero object id marking ref creation or deletion.
const ZeroHash = "0000000000000000000000000000000000000000"

// Command is one "old-oid new-oid refname" line from the receive-pack
// request.
type Command struct {
	Old string
	New string
	Ref string
}

// Push is the decoded content of one receive-pack request body.
type Push struct {
	Commands     []Command
	Capabilities []string
	Commits      []models.CommitData
}

// Branch returns the short branch name of the first updated ref.
func (p *Push) Branch() string {
	if len(p.Commands) == 0 {
		return ""
	}
	return strings.TrimPrefix(p.Commands[0].Ref, "refs/heads/")
}

// Parse decodes the pkt-line command list and, when a packfile follows,
// extracts the commit metadata it carries, newest first.
func Parse(body []byte) (*Push, error) {
	rd := bytes.NewReader(body)
	push := &Push{}

	scanner := pktline.NewScanner(rd)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			// Flush packet terminates the command list.
			break
		}
		text := strings.TrimSuffix(string(line), "\n")
		if idx := strings.IndexByte(text, '\x00'); idx >= 0 {
			// Capabilities ride along after a NUL on the first command.
			push.Capabilities = strings.Fields(text[idx+1:])
			text = text[:idx]
		}
		items := strings.SplitN(text, " ", 3)
		if len(items) != 3 {
			return nil, errors.Errorf("malformed receive-pack command %q", text)
		}
		push.Commands = append(push.Commands, Command{
			Old: items[0],
			New: items[1],
			Ref: items[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan receive-pack commands")
	}
	if len(push.Commands) == 0 {
		return nil, errors.New("receive-pack request carries no commands")
	}

	// Ref deletions carry no packfile.
	if rd.Len() == 0 {
		return push, nil
	}

	storage := memory.NewStorage()
	if err := packfile.UpdateObjectStorage(storage, rd); err != nil {
		return nil, errors.Wrap(err, "parse packfile")
	}

	iter, err := storage.IterEncodedObjects(plumbing.CommitObject)
	if err != nil {
		return nil, errors.Wrap(err, "iterate pack commits")
	}
	defer iter.Close()

	var commits []*object.Commit
	err = iter.ForEach(func(obj plumbing.EncodedObject) error {
		commit, err := object.DecodeCommit(storage, obj)
		if err != nil {
			return err
		}
		commits = append(commits, commit)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode pack commits")
	}

	sort.Slice(commits, func(i, j int) bool {
		return commits[i].Committer.When.After(commits[j].Committer.When)
	})
	for _, c := range commits {
		push.Commits = append(push.Commits, commitData(c))
	}
	return push, nil
}

func commitData(c *object.Commit) models.CommitData {
	parent := ZeroHash
	if len(c.ParentHashes) > 0 {
		parent = c.ParentHashes[0].String()
	}
	return models.CommitData{
		CommitID:       c.Hash.String(),
		Tree:           c.TreeHash.String(),
		Parent:         parent,
		Message:        c.Message,
		Author:         c.Author.Name,
		AuthorEmail:    c.Author.Email,
		Committer:      c.Committer.Name,
		CommitterEmail: c.Committer.Email,
		CommitTS:       c.Committer.When.Unix(),
		AuthorTS:       c.Author.When.Unix(),
	}
}
