package keys

import "errors"

var (
	// ErrNoActiveKey means the store holds no active key. ActiveKey heals it
	// by generating one, so callers never see this error from ActiveKey.
	ErrNoActiveKey = errors.New("no active key")
	// ErrKeyNotFound means the key id is unknown.
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyExpired means the key is past its retention window.
	ErrKeyExpired = errors.New("key expired")
	// ErrKeyInUse means the key is active or still referenced by ciphertext.
	ErrKeyInUse = errors.New("key in use")
)
