package pack

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pkt(line string) string {
	return fmt.Sprintf("%04x%s", 4+len(line), line)
}

const (
	oldHash = "1111111111111111111111111111111111111111"
	newHash = "2222222222222222222222222222222222222222"
)

func TestParseCommands(t *testing.T) {
	body := pkt(oldHash+" "+newHash+" refs/heads/main\x00report-status side-band-64k agent=git/2.40\n") + "0000"

	push, err := Parse([]byte(body))
	require.NoError(t, err)
	require.Len(t, push.Commands, 1)
	assert.Equal(t, oldHash, push.Commands[0].Old)
	assert.Equal(t, newHash, push.Commands[0].New)
	assert.Equal(t, "refs/heads/main", push.Commands[0].Ref)
	assert.Equal(t, "main", push.Branch())
	assert.Contains(t, push.Capabilities, "report-status")
	assert.Empty(t, push.Commits)
}

func TestParseMultipleCommands(t *testing.T) {
	body := pkt(oldHash+" "+newHash+" refs/heads/main\x00report-status\n") +
		pkt(newHash+" "+oldHash+" refs/tags/v1.0\n") +
		"0000"

	push, err := Parse([]byte(body))
	require.NoError(t, err)
	require.Len(t, push.Commands, 2)
	assert.Equal(t, "refs/tags/v1.0", push.Commands[1].Ref)
}

func TestParseDeletePush(t *testing.T) {
	// Deleting a ref sends a zero new-oid and no packfile.
	body := pkt(oldHash+" "+ZeroHash+" refs/heads/stale\n") + "0000"

	push, err := Parse([]byte(body))
	require.NoError(t, err)
	require.Len(t, push.Commands, 1)
	assert.Equal(t, ZeroHash, push.Commands[0].New)
	assert.Empty(t, push.Commits)
}

func TestParseRejectsMalformedCommand(t *testing.T) {
	body := pkt("not a command line\n") + "0000"

	_, err := Parse([]byte(body))
	assert.Error(t, err)
}

func TestParseRejectsEmptyBody(t *testing.T) {
	_, err := Parse([]byte("0000"))
	assert.Error(t, err)

	_, err = Parse(nil)
	assert.Error(t, err)
}

func TestParseRejectsTruncatedPack(t *testing.T) {
	body := pkt(oldHash+" "+newHash+" refs/heads/main\n") + "0000" +
		"PACK" + strings.Repeat("\x00", 3)

	_, err := Parse([]byte(body))
	assert.Error(t, err)
}
