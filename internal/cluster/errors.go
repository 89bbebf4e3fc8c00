package cluster

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidVersion is returned when a version string is not valid for a provider
	ErrInvalidVersion = errors.New("invalid kubernetes version")
	// ErrNoVersionsAvailable is returned when a version policy resolves to an empty set
	ErrNoVersionsAvailable = errors.New("no kubernetes versions available")
)

// Kind classifies provisioning failures
type Kind string

const (
	KindTimeout        Kind = "Timeout"
	KindRemoteRejected Kind = "RemoteRejected"
	KindPrecheckFailed Kind = "PrecheckFailed"
	KindCanceled       Kind = "Canceled"
)

// ProvisionError is the error carried by a failed outcome
type ProvisionError struct {
	Kind    Kind
	Cluster Key
	Err     error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s failed (%s): %v", e.Cluster, e.Kind, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// NewProvisionError wraps err with a kind. An error that already is a
// ProvisionError keeps its original kind.
func NewProvisionError(kind Kind, key Key, err error) *ProvisionError {
	var pe *ProvisionError
	if errors.As(err, &pe) {
		return &ProvisionError{Kind: pe.Kind, Cluster: key, Err: pe.Err}
	}
	return &ProvisionError{Kind: kind, Cluster: key, Err: err}
}

// KindOf returns the provisioning kind of err, or "" if err is not a ProvisionError.
func KindOf(err error) Kind {
	var pe *ProvisionError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// TeardownError reports a failed destroy. It is logged, never escalated.
type TeardownError struct {
	Cluster    Key
	ExternalID string
	Err        error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown %s (%s) failed: %v", e.Cluster, e.ExternalID, e.Err)
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}

// InvalidVersionError names the offending version
type InvalidVersionError struct {
	Provider Provider
	Version  string
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("%s: %q is not a valid %s version", ErrInvalidVersion, e.Version, e.Provider)
}

func (e *InvalidVersionError) Is(target error) bool {
	return target == ErrInvalidVersion
}
