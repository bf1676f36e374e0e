package sync

import (
	"errors"
	"fmt"

	"github.com/tunebox/tunesync/internal/envelope"
	"github.com/tunebox/tunesync/internal/storage"
	"github.com/tunebox/tunesync/internal/tunesdk"
)

var (
	// ErrConnectivity pauses the walk. Queues are kept so Run can resume.
	ErrConnectivity = errors.New("remote unreachable")
	// ErrNotFound means a path vanished between listing and transfer
	ErrNotFound = errors.New("path not found")
	// ErrConflict is reported for CONFLICT_* entries that were not forced
	ErrConflict = errors.New("conflicting changes")
	// ErrIntegrity means a transfer finished with unexpected attributes
	ErrIntegrity = errors.New("transfer integrity check failed")
	// ErrEncryption means a key was unavailable or a payload was malformed
	ErrEncryption = errors.New("encryption failed")
)

// classifyError wraps err with the matching taxonomy sentinel, keeping the original chain
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if kind := errorKind(err); kind != nil && !errors.Is(err, kind) {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return err
}

func errorKind(err error) error {
	var apiErr *tunesdk.APIError
	switch {
	case errors.Is(err, ErrConnectivity), errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict),
		errors.Is(err, ErrIntegrity), errors.Is(err, ErrEncryption):
		return nil
	case errors.Is(err, tunesdk.ErrConnectivity):
		return ErrConnectivity
	case errors.Is(err, tunesdk.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, tunesdk.ErrIntegrity):
		return ErrIntegrity
	case errors.As(err, &apiErr) && apiErr.Code == tunesdk.CodeKeyUnavailable:
		return ErrEncryption
	case isEnvelopeError(err):
		return ErrEncryption
	}
	return nil
}

var envelopeErrors = []error{
	envelope.ErrUnknownMode, envelope.ErrNoKey, envelope.ErrBadKey, envelope.ErrMalformed,
	envelope.ErrTruncated, envelope.ErrAuthFailed, envelope.ErrUnsupported,
	envelope.ErrModeMismatch, envelope.ErrInvalidHeader,
}

func isEnvelopeError(err error) bool {
	for _, target := range envelopeErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func IsConnectivity(err error) bool {
	return errors.Is(classifyError(err), ErrConnectivity)
}

func IsNotFound(err error) bool {
	return errors.Is(classifyError(err), ErrNotFound)
}
