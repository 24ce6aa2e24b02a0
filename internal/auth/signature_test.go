package auth_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-relay/internal/auth"
	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
)

func sign(priv ed25519.PrivateKey, timestamp string, body []byte) string {
	return hex.EncodeToString(ed25519.Sign(priv, auth.SignedMessage(timestamp, body)))
}

func TestSignedMessage(t *testing.T) {
	// "é" is two bytes, so the length field is 2 not 1.
	assert.Equal(t, "1700000000.2.é", string(auth.SignedMessage("1700000000", []byte("é"))))
	assert.Equal(t, "ts.0.", string(auth.SignedMessage("ts", nil)))
}

func TestVerifySignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	cases := []struct {
		timestamp string
		body      string
	}{
		{"1700000000", `{"id":"abc","payload":{"flags":0,"blob":"e30="}}`},
		{"0", ""},
		{"1700000001", "multi\nline body with ünïcode"},
	}

	t.Run("Genuine signatures verify", func(t *testing.T) {
		for _, tc := range cases {
			sig := sign(priv, tc.timestamp, []byte(tc.body))
			ok, err := auth.VerifySignature(sig, tc.timestamp, []byte(tc.body), pub)
			require.NoError(t, err)
			assert.True(t, ok, "timestamp=%s body=%q", tc.timestamp, tc.body)
		}
	})

	t.Run("Mismatched message is rejected", func(t *testing.T) {
		sig := sign(priv, "1700000000", []byte("body"))

		ok, err := auth.VerifySignature(sig, "1700000001", []byte("body"), pub)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = auth.VerifySignature(sig, "1700000000", []byte("body!"), pub)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Other key is rejected", func(t *testing.T) {
		otherPub, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		ok, err := auth.VerifySignature(sign(priv, "1", []byte("b")), "1", []byte("b"), otherPub)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Non-hex fails with decode error", func(t *testing.T) {
		for _, bad := range []string{"zz", "not hex at all", "abc"} {
			ok, err := auth.VerifySignature(bad, "1", []byte("b"), pub)
			require.Error(t, err)
			assert.False(t, ok)
			assert.True(t, relayerr.Is(err, relayerr.KindSignatureDecode))
		}
	})

	t.Run("Wrong length fails with decode error", func(t *testing.T) {
		_, err := auth.VerifySignature("abcd", "1", []byte("b"), pub)
		assert.True(t, relayerr.Is(err, relayerr.KindSignatureDecode))
	})
}
