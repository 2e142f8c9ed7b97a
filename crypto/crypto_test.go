package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushgate/pushgate/models"
)

func TestTokenRoundTrip(t *testing.T) {
	InitTestKeys()

	tok := MintToken("carol")
	username, ok := VerifyToken(tok)
	require.True(t, ok)
	assert.Equal(t, "carol", username)
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	InitTestKeys()

	_, ok := VerifyToken("not-a-token")
	assert.False(t, ok)

	_, ok = VerifyToken("")
	assert.False(t, ok)
}

func TestAttestationSignature(t *testing.T) {
	InitTestKeys()

	reviewer := models.Reviewer{Username: "carol"}
	ts := time.Now().UTC()

	sig, err := SignAttestation("a__b", reviewer, ts)
	require.NoError(t, err)
	assert.True(t, VerifyAttestation("a__b", reviewer, ts, sig))

	// A signature does not transfer to another push.
	assert.False(t, VerifyAttestation("c__d", reviewer, ts, sig))
	assert.False(t, VerifyAttestation("a__b", models.Reviewer{Username: "mallory"}, ts, sig))
	assert.False(t, VerifyAttestation("a__b", reviewer, ts, "bogus"))
}
