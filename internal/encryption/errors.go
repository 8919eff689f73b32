package encryption

import "errors"

var (
	// ErrEncryptionFailure means a field could not be encrypted. It is never
	// retried.
	ErrEncryptionFailure = errors.New("encryption failure")
	// ErrDecryptionFailure covers tampering, corruption and missing or
	// expired keys. It is never retried.
	ErrDecryptionFailure = errors.New("decryption failure")
)
