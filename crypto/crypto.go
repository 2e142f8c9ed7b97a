// Package crypto holds the proxy's key material: a fernet key for review
// API bearer tokens and an ed25519 key pair for attestation signatures.
package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"log"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/vaughan0/go-ini"
)

// Review tokens older than this are refused.
const tokenTTL = 48 * time.Hour

var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	fernetKey  *fernet.Key
)

// InitCrypto loads key material from the config file. Both keys are
// required; a proxy without them cannot authenticate reviewers or sign
// attestations.
func InitCrypto(config ini.File) {
	b64key, ok := config.Get("pushgate", "attestation-key")
	if !ok {
		log.Fatalf("No attestation key configured")
	}
	seed, err := base64.StdEncoding.DecodeString(b64key)
	if err != nil {
		log.Fatalf("base64 decode attestation key: %v", err)
	}
	privateKey = ed25519.NewKeyFromSeed(seed)
	publicKey, _ = privateKey.Public().(ed25519.PublicKey)

	b64fernet, ok := config.Get("pushgate", "network-key")
	if !ok {
		log.Fatalf("No network key configured")
	}
	fernetKey, err = fernet.DecodeKey(b64fernet)
	if err != nil {
		log.Fatalf("Load Fernet network encryption key: %v", err)
	}
}

// InitTestKeys installs throwaway keys. Tests only.
func InitTestKeys() {
	seed := make([]byte, ed25519.SeedSize)
	privateKey = ed25519.NewKeyFromSeed(seed)
	publicKey, _ = privateKey.Public().(ed25519.PublicKey)
	var key fernet.Key
	if err := key.Generate(); err != nil {
		log.Fatalf("generate fernet key: %v", err)
	}
	fernetKey = &key
}

// MintToken issues a review API bearer token for the given username.
func MintToken(username string) string {
	tok, err := fernet.EncryptAndSign([]byte(username), fernetKey)
	if err != nil {
		log.Fatalf("Error encrypting token: %v", err)
	}
	return string(tok)
}

// VerifyToken returns the username carried by a bearer token, or false
// if the token is invalid or expired.
func VerifyToken(token string) (string, bool) {
	msg := fernet.VerifyAndDecrypt([]byte(token), tokenTTL, []*fernet.Key{fernetKey})
	if msg == nil {
		return "", false
	}
	return string(msg), true
}

// attestation signatures cover the record minus the signature itself.
type signedAttestation struct {
	PushID    string      `json:"pushId"`
	Reviewer  interface{} `json:"reviewer"`
	Timestamp time.Time   `json:"timestamp"`
}

// SignAttestation returns a detached base64 signature binding the
// reviewer and timestamp to the push id.
func SignAttestation(pushID string, reviewer interface{}, timestamp time.Time) (string, error) {
	payload, err := json.Marshal(signedAttestation{
		PushID:    pushID,
		Reviewer:  reviewer,
		Timestamp: timestamp,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(privateKey, payload)), nil
}

// VerifyAttestation checks a signature produced by SignAttestation.
func VerifyAttestation(pushID string, reviewer interface{}, timestamp time.Time, signature string) bool {
	payload, err := json.Marshal(signedAttestation{
		PushID:    pushID,
		Reviewer:  reviewer,
		Timestamp: timestamp,
	})
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(publicKey, payload, sig)
}
