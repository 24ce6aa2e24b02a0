package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"

	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
)

const (
	didPrefix       = "did"
	didMethodKey    = "key"
	didDelimiter    = ":"
	multibaseBase58 = 'z'
	jwtAlgorithm    = "EdDSA"
)

// multicodec varint prefix for an ed25519 public key.
var ed25519Multicodec = []byte{0xed, 0x01}

// ClientIdentity is the identity asserted by a verified did:key token.
type ClientIdentity struct {
	// ClientID is the multibase key portion of the issuer (the part after did:key:).
	ClientID  string
	PublicKey ed25519.PublicKey
	Subject   string
}

type jwtHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// IdentityVerifier decodes did:key JWTs.
type IdentityVerifier struct {
	audiences map[string]struct{}
	validator *jwt.Validator
}

// NewIdentityVerifier accepts tokens whose aud claim names any of audiences.
func NewIdentityVerifier(audiences []string, now func() time.Time) *IdentityVerifier {
	if now == nil {
		now = time.Now
	}
	set := make(map[string]struct{}, len(audiences))
	for _, a := range audiences {
		set[a] = struct{}{}
	}
	return &IdentityVerifier{
		audiences: set,
		validator: jwt.NewValidator(
			jwt.WithIssuedAt(),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(5*time.Second),
			jwt.WithTimeFunc(now),
		),
	}
}

// Decode validates token in a fixed order so the reported error is the first
// structural problem, never the signature outcome of a malformed token.
func (v *IdentityVerifier) Decode(token string) (*ClientIdentity, error) {
	// 1. Structure
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, relayerr.Newf(relayerr.KindIdentityMalformed, "expected 3 segments, got %d", len(parts))
	}

	// 2. Segment encoding
	decoded := make([][]byte, 3)
	for i, part := range parts {
		b, err := base64.RawURLEncoding.DecodeString(part)
		if err != nil {
			return nil, relayerr.Newf(relayerr.KindIdentityEncoding, "segment %d: %w", i, err)
		}
		decoded[i] = b
	}

	// 3. Header
	var header jwtHeader
	if err := json.Unmarshal(decoded[0], &header); err != nil {
		return nil, relayerr.New(relayerr.KindIdentityAlgorithm, err)
	}
	if header.Alg != jwtAlgorithm {
		return nil, relayerr.Newf(relayerr.KindIdentityAlgorithm, "unexpected alg %q", header.Alg)
	}

	// 4. Claims
	var claims jwt.RegisteredClaims
	if err := json.Unmarshal(decoded[1], &claims); err != nil {
		return nil, relayerr.New(relayerr.KindIdentityClaims, err)
	}

	// 5. Temporal and audience validation
	if err := v.validator.Validate(claims); err != nil {
		return nil, relayerr.New(relayerr.KindIdentityClaimsInvalid, err)
	}
	if !v.audienceAllowed(claims.Audience) {
		return nil, relayerr.Newf(relayerr.KindIdentityClaimsInvalid, "audience %v not accepted", []string(claims.Audience))
	}

	// 6. Issuer
	clientID, pub, err := decodeDIDKey(claims.Issuer)
	if err != nil {
		return nil, relayerr.New(relayerr.KindIdentityIssuer, err)
	}

	// 7. Signature
	signingString := parts[0] + "." + parts[1]
	if err := jwt.SigningMethodEdDSA.Verify(signingString, decoded[2], pub); err != nil {
		return nil, relayerr.New(relayerr.KindIdentitySignature, err)
	}

	return &ClientIdentity{ClientID: clientID, PublicKey: pub, Subject: claims.Subject}, nil
}

func (v *IdentityVerifier) audienceAllowed(aud jwt.ClaimStrings) bool {
	for _, a := range aud {
		if _, ok := v.audiences[a]; ok {
			return true
		}
	}
	return false
}

// decodeDIDKey parses "did:key:z<base58btc(0xed01 || pubkey)>".
func decodeDIDKey(issuer string) (string, ed25519.PublicKey, error) {
	parts := strings.SplitN(issuer, didDelimiter, 3)
	if len(parts) != 3 || parts[0] != didPrefix || parts[1] != didMethodKey {
		return "", nil, fmt.Errorf("issuer %q is not a did:key", issuer)
	}
	id := parts[2]
	if id == "" || id[0] != multibaseBase58 {
		return "", nil, errors.New("did:key must use base58btc multibase")
	}
	raw, err := base58.Decode(id[1:])
	if err != nil {
		return "", nil, fmt.Errorf("did:key is not base58: %w", err)
	}
	if len(raw) != len(ed25519Multicodec)+ed25519.PublicKeySize ||
		raw[0] != ed25519Multicodec[0] || raw[1] != ed25519Multicodec[1] {
		return "", nil, errors.New("did:key is not an ed25519 key")
	}
	return id, ed25519.PublicKey(raw[len(ed25519Multicodec):]), nil
}

// EncodeDIDKey renders pub as a did:key issuer string.
func EncodeDIDKey(pub ed25519.PublicKey) string {
	raw := append(append([]byte{}, ed25519Multicodec...), pub...)
	return didPrefix + didDelimiter + didMethodKey + didDelimiter + string(multibaseBase58) + base58.Encode(raw)
}
