// Package relayerr defines the closed set of error kinds the relay can produce
// and their mapping to HTTP responses.
package relayerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one error variant. The set is closed: every Kind must have
// a descriptor in kindTable.
type Kind int

const (
	// Input errors.
	KindInvalidBody Kind = iota
	KindValidation
	KindInvalidProviderKind
	KindPayloadDecode
	KindInvalidCredentialCombination

	// Authentication errors.
	KindMissingSignature
	KindMissingTimestamp
	KindMissingSignatureAndTimestamp
	KindSignatureDecode
	KindInvalidSignature
	KindRelayKeyUnavailable
	KindIdentityMalformed
	KindIdentityEncoding
	KindIdentityAlgorithm
	KindIdentityClaims
	KindIdentityClaimsInvalid
	KindIdentityIssuer
	KindIdentitySignature
	KindClientIDMismatch

	// Tenant and provider configuration errors.
	KindTenantNotFound
	KindTenantExists
	KindClientNotFound
	KindProviderNotAvailable
	KindProviderConstruction

	// Backend delivery errors.
	KindBadDeviceToken
	KindApnsCertificateExpired
	KindApnsResponse
	KindBadApnsCredentials
	KindFcmResponse
	KindProviderTransport

	// Infrastructure errors.
	KindRateLimited
	KindStorage
	KindInternal

	numKinds
)

type descriptor struct {
	status int
	name   string
}

var kindTable = [...]descriptor{
	KindInvalidBody:                  {http.StatusBadRequest, "InvalidBody"},
	KindValidation:                   {http.StatusBadRequest, "ValidationFailed"},
	KindInvalidProviderKind:          {http.StatusBadRequest, "InvalidProviderKind"},
	KindPayloadDecode:                {http.StatusBadRequest, "PayloadDecode"},
	KindInvalidCredentialCombination: {http.StatusBadRequest, "InvalidCredentialCombination"},

	KindMissingSignature:             {http.StatusBadRequest, "MissingSignature"},
	KindMissingTimestamp:             {http.StatusBadRequest, "MissingTimestamp"},
	KindMissingSignatureAndTimestamp: {http.StatusBadRequest, "MissingSignatureAndTimestamp"},
	KindSignatureDecode:              {http.StatusUnauthorized, "SignatureDecode"},
	KindInvalidSignature:             {http.StatusUnauthorized, "InvalidSignature"},
	KindRelayKeyUnavailable:          {http.StatusServiceUnavailable, "RelayKeyUnavailable"},
	KindIdentityMalformed:            {http.StatusUnauthorized, "IdentityMalformed"},
	KindIdentityEncoding:             {http.StatusUnauthorized, "IdentityEncoding"},
	KindIdentityAlgorithm:            {http.StatusUnauthorized, "IdentityAlgorithm"},
	KindIdentityClaims:               {http.StatusUnauthorized, "IdentityClaims"},
	KindIdentityClaimsInvalid:        {http.StatusUnauthorized, "IdentityClaimsInvalid"},
	KindIdentityIssuer:               {http.StatusUnauthorized, "IdentityIssuer"},
	KindIdentitySignature:            {http.StatusUnauthorized, "IdentitySignature"},
	KindClientIDMismatch:             {http.StatusUnauthorized, "ClientIdMismatch"},

	KindTenantNotFound:       {http.StatusNotFound, "TenantNotFound"},
	KindTenantExists:         {http.StatusConflict, "TenantExists"},
	KindClientNotFound:       {http.StatusNotFound, "ClientNotFound"},
	KindProviderNotAvailable: {http.StatusBadRequest, "ProviderNotAvailable"},
	KindProviderConstruction: {http.StatusBadRequest, "ProviderConstruction"},

	KindBadDeviceToken:         {http.StatusGone, "BadDeviceToken"},
	KindApnsCertificateExpired: {http.StatusBadRequest, "ApnsCertificateExpired"},
	KindApnsResponse:           {http.StatusBadGateway, "ApnsResponse"},
	KindBadApnsCredentials:     {http.StatusBadRequest, "BadApnsCredentials"},
	KindFcmResponse:            {http.StatusBadGateway, "FcmResponse"},
	KindProviderTransport:      {http.StatusBadGateway, "ProviderTransport"},

	KindRateLimited: {http.StatusTooManyRequests, "RateLimited"},
	KindStorage:     {http.StatusInternalServerError, "StorageError"},
	KindInternal:    {http.StatusInternalServerError, "InternalError"},
}

// Fails to compile when a Kind is appended without a table entry.
var _ = [1]struct{}{}[len(kindTable)-int(numKinds)]

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	if k < 0 || k >= numKinds {
		return http.StatusInternalServerError
	}
	return kindTable[k].status
}

// String returns the machine-readable name of the kind.
func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindTable[k].name
}

// Field describes one offending input field.
type Field struct {
	Field       string `json:"field"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

// Error is the single error type returned across package boundaries.
type Error struct {
	Kind Kind
	// Reason carries backend detail, e.g. the APNs reason string.
	Reason string
	Fields []Field
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind. err may be nil.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf builds an Error with a formatted cause.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WithReason builds an Error carrying a backend reason string.
func WithReason(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// WithFields builds an input error naming the offending fields.
func WithFields(kind Kind, fields ...Field) *Error {
	return &Error{Kind: kind, Fields: fields}
}

// KindOf returns the Kind carried by err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == kind
}

// From converts any error into an *Error, classifying unknown errors as internal.
func From(err error) *Error {
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return New(KindInternal, err)
}
