// Package snapshot marshals opaque collaborative document snapshots between
// storage and the live editing session.
package snapshot

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ErrDecode matches every *DecodeError.
var ErrDecode = errors.New("snapshot decode failed")

// DecodeError reports a snapshot that could not be turned back into bytes.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrDecode, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrDecode, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Encode returns the padded standard base64 form of data.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode is the exact inverse of Encode. It rejects anything Encode could
// not have produced, including line breaks that the stdlib decoder skips.
func Decode(payload string) ([]byte, error) {
	if strings.ContainsAny(payload, "\r\n") {
		return nil, &DecodeError{Reason: "payload contains line breaks"}
	}
	if len(payload)%4 != 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("payload length %d is not a multiple of 4", len(payload))}
	}
	data, err := base64.StdEncoding.Strict().DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64", Err: err}
	}
	return data, nil
}

// Digest is the hex blake2b-256 sum used to detect corrupted blobs.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Snapshot is a persisted document state. A nil *Snapshot means the page
// has never been saved, which differs from a zero-length Data.
type Snapshot struct {
	Data    []byte
	Digest  string
	SavedAt time.Time
}

func New(data []byte, savedAt time.Time) Snapshot {
	if data == nil {
		data = []byte{}
	}
	return Snapshot{Data: data, Digest: Digest(data), SavedAt: savedAt}
}

// Verify checks Data against Digest. Snapshots written without a digest
// are accepted as is.
func (s Snapshot) Verify() error {
	if s.Digest == "" {
		return nil
	}
	if got := Digest(s.Data); got != s.Digest {
		return &DecodeError{Reason: fmt.Sprintf("digest mismatch: stored %s, computed %s", s.Digest, got)}
	}
	return nil
}

// ToSessionPayload converts a stored snapshot into the value handed to the
// live session. A nil result means the session starts from an empty
// document.
func ToSessionPayload(snap *Snapshot) (*string, error) {
	if snap == nil {
		return nil, nil
	}
	if err := snap.Verify(); err != nil {
		return nil, err
	}
	encoded := Encode(snap.Data)
	return &encoded, nil
}

// FromSessionPayload decodes a snapshot emitted by the live session.
func FromSessionPayload(payload string, savedAt time.Time) (Snapshot, error) {
	data, err := Decode(payload)
	if err != nil {
		return Snapshot{}, err
	}
	return New(data, savedAt), nil
}
