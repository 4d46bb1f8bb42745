package fhevm

import (
	"errors"
	"fmt"
)

// ErrCreationAborted reports that instance creation observed cancellation.
// It is a control signal, not a failure: the bootstrapper discards the
// partially-built instance and never updates shared state after it.
var ErrCreationAborted = errors.New("engine instance creation aborted")

// InvalidSDKShapeError is returned when the loaded module does not expose all
// three required capabilities (init routine, instance creation, network
// configuration).
type InvalidSDKShapeError struct {
	Missing string
}

func (e *InvalidSDKShapeError) Error() string {
	return fmt.Sprintf("invalid relayer SDK shape: missing %s", e.Missing)
}

// SDKLoadError reports a failed fetch of the remote SDK resource.
type SDKLoadError struct {
	URL string
	Err error
}

func (e *SDKLoadError) Error() string {
	return fmt.Sprintf("failed to load relayer SDK from %s: %v", e.URL, e.Err)
}

func (e *SDKLoadError) Unwrap() error { return e.Err }

// SignatureUnavailableError reports that decryption-signature acquisition was
// rejected or failed after keypair generation. Callers must treat it as
// "cannot proceed", not as an empty-but-valid signature.
type SignatureUnavailableError struct {
	Err error
}

func (e *SignatureUnavailableError) Error() string {
	return fmt.Sprintf("decryption signature unavailable: %v", e.Err)
}

func (e *SignatureUnavailableError) Unwrap() error { return e.Err }
