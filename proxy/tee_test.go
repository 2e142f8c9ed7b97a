package proxy

import (
	"io/ioutil"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeeBodyReplaysBody(t *testing.T) {
	body := "0000PACKdata"
	r := httptest.NewRequest("POST", "/finos/git-proxy.git/git-receive-pack",
		strings.NewReader(body))

	captured, err := TeeBody(r)
	require.NoError(t, err)
	assert.Equal(t, body, string(captured))

	// The replacement body replays the identical bytes upstream.
	forwarded, err := ioutil.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(forwarded))
	assert.Equal(t, int64(len(body)), r.ContentLength)
}

func TestTeeBodyEnforcesCap(t *testing.T) {
	r := httptest.NewRequest("POST", "/finos/git-proxy.git/git-receive-pack",
		strings.NewReader(strings.Repeat("x", 100)))

	_, err := teeBody(r, 99)
	assert.True(t, errors.Is(err, ErrPackTooLarge))
}

func TestTeeBodyAtCap(t *testing.T) {
	r := httptest.NewRequest("POST", "/finos/git-proxy.git/git-receive-pack",
		strings.NewReader(strings.Repeat("x", 100)))

	captured, err := teeBody(r, 100)
	require.NoError(t, err)
	assert.Len(t, captured, 100)
}
