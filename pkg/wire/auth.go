// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package wire

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"hash"

	"github.com/cilium/lispd/pkg/lisperr"
)

// KeyID identifies the authentication algorithm a control message uses,
// per spec §4.F: "key-id ∈ {0=none, 1=HMAC-SHA1-96, 2=HMAC-SHA256-128}".
type KeyID uint16

const (
	KeyIDNone       KeyID = 0
	KeyIDHMACSHA1   KeyID = 1
	KeyIDHMACSHA256 KeyID = 2
)

// AuthDataLen returns the fixed auth-data field length for id, or an
// error for an id this daemon does not implement.
func AuthDataLen(id KeyID) (int, error) {
	switch id {
	case KeyIDNone:
		return 0, nil
	case KeyIDHMACSHA1:
		return 12, nil // SHA1-96: truncated to 12 bytes
	case KeyIDHMACSHA256:
		return 16, nil // SHA256-128: truncated to 16 bytes
	default:
		return 0, lisperr.ErrBadAuth
	}
}

func newHash(id KeyID) (func() hash.Hash, error) {
	switch id {
	case KeyIDHMACSHA1:
		return sha1.New, nil
	case KeyIDHMACSHA256:
		return sha256.New, nil
	default:
		return nil, lisperr.ErrBadAuth
	}
}

// Compute returns the truncated HMAC over buf using key and id, the
// value placed into a control message's auth-data field. Callers must
// zero the auth-data field in buf before calling Compute, per spec
// §4.F: "HMAC over the whole control message with the auth-data field
// zeroed during computation."
func Compute(id KeyID, key []byte, buf []byte) ([]byte, error) {
	if id == KeyIDNone {
		return nil, nil
	}
	newH, err := newHash(id)
	if err != nil {
		return nil, err
	}
	authLen, err := AuthDataLen(id)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(newH, key)
	mac.Write(buf)
	return mac.Sum(nil)[:authLen], nil
}

// Verify recomputes the HMAC over buf (with its auth-data field already
// zeroed by the caller) and reports whether it matches want in constant
// time.
func Verify(id KeyID, key []byte, buf []byte, want []byte) (bool, error) {
	got, err := Compute(id, key, buf)
	if err != nil {
		return false, err
	}
	return hmac.Equal(got, want), nil
}
