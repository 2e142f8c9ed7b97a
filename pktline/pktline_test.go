package pktline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorPacket(t *testing.T) {
	pkt := ErrorPacket("access denied")

	// "ERR access denied" is 17 bytes, plus the 4-byte prefix = 0x15.
	assert.Equal(t, "0015ERR access denied0000", string(pkt))
}

func TestSidebandPacket(t *testing.T) {
	pkt := SidebandPacket("push rejected")

	assert.True(t, strings.HasSuffix(string(pkt), Flush))
	assert.Equal(t, byte(0x02), pkt[4])
	assert.Contains(t, string(pkt), "\tpush rejected\n")
}

func TestLengthCoversPayload(t *testing.T) {
	for _, msg := range []string{
		"",
		"x",
		"commit message contains forbidden token",
		strings.Repeat("long ", 100),
	} {
		errPkt := ErrorPacket(msg)
		n, err := ParseLength(errPkt)
		require.NoError(t, err)
		assert.Equal(t, 4+len("ERR "+msg), n)

		sbPkt := SidebandPacket(msg)
		n, err = ParseLength(sbPkt)
		require.NoError(t, err)
		assert.Equal(t, 4+len("\x02\t"+msg+"\n"), n)

		// Length prefix + payload, then the flush packet and nothing else.
		assert.Equal(t, Flush, string(sbPkt[n:]))
	}
}

func TestParseLengthRejectsGarbage(t *testing.T) {
	_, err := ParseLength([]byte("zz"))
	assert.Error(t, err)

	_, err = ParseLength([]byte("wxyz rest"))
	assert.Error(t, err)
}
