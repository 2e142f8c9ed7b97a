// Package pktline renders Git protocol error packets in the pkt-line
// framing used by the smart-HTTP transport. The proxy only ever needs to
// synthesize refusals, so there is no general pkt-line decoder here.
package pktline

import (
	"fmt"
	"strconv"
)

// Content types for the two refusal flavors.
const (
	UploadPackAdvertisement = "application/x-git-upload-pack-advertisement"
	ReceivePackResult       = "application/x-git-receive-pack-result"
)

// Flush is the pkt-line flush packet terminating every refusal.
const Flush = "0000"

// ErrorPacket encodes a refusal for ref discovery (GET .../info/refs).
// The payload is "ERR " plus the message, length-prefixed with four hex
// digits covering the prefix itself, followed by a flush packet.
func ErrorPacket(message string) []byte {
	payload := "ERR " + message
	return []byte(fmt.Sprintf("%04x%s%s", 4+len(payload), payload, Flush))
}

// SidebandPacket encodes a refusal for the pack endpoints (POST
// git-upload-pack / git-receive-pack). The leading \x02 routes the
// message to the client's progress/error sideband.
func SidebandPacket(message string) []byte {
	payload := "\x02\t" + message + "\n"
	return []byte(fmt.Sprintf("%04x%s%s", 4+len(payload), payload, Flush))
}

// ParseLength decodes the 4-hex-digit length prefix of a pkt-line.
func ParseLength(pkt []byte) (int, error) {
	if len(pkt) < 4 {
		return 0, fmt.Errorf("pkt-line too short: %d bytes", len(pkt))
	}
	n, err := strconv.ParseUint(string(pkt[:4]), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("bad pkt-line length %q: %v", pkt[:4], err)
	}
	return int(n), nil
}
