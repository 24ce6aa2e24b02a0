// Package auth verifies the two kinds of proof the relay accepts: Ed25519
// webhook signatures from the trusted relay, and did:key identity tokens
// presented by clients registering themselves.
package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
)

const (
	SignatureHeader = "X-Ed25519-Signature"
	TimestampHeader = "X-Ed25519-Timestamp"
)

// SignedMessage builds the canonical "{timestamp}.{len(body)}.{body}" byte string.
// The length is the byte length of body.
func SignedMessage(timestamp string, body []byte) []byte {
	msg := make([]byte, 0, len(timestamp)+len(body)+24)
	msg = append(msg, timestamp...)
	msg = append(msg, '.')
	msg = strconv.AppendInt(msg, int64(len(body)), 10)
	msg = append(msg, '.')
	msg = append(msg, body...)
	return msg
}

// VerifySignature checks signatureHex against the canonical message. It returns
// a KindSignatureDecode error when signatureHex is not hex or not a 64-byte
// Ed25519 signature, and (false, nil) when the signature does not match.
func VerifySignature(signatureHex, timestamp string, body []byte, key ed25519.PublicKey) (bool, error) {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false, relayerr.New(relayerr.KindSignatureDecode, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, relayerr.Newf(relayerr.KindSignatureDecode, "invalid ed25519 signature length: %d", len(sig))
	}
	if len(key) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid ed25519 public key length: %d", len(key))
	}
	return ed25519.Verify(key, SignedMessage(timestamp, body), sig), nil
}
