package deployer

import (
	"errors"
	"fmt"
)

// Common errors for deployment runs.
var (
	// ErrNoHosts is returned by Run when the script lists no hosts.
	ErrNoHosts = errors.New("no hosts to deploy")

	// ErrPanic wraps a panic recovered from a deployment routine.
	ErrPanic = errors.New("deployment routine panicked")
)

// Stage names the part of a host's deployment that failed.
type Stage string

const (
	// StageResolve is resolving the host's connection target.
	StageResolve Stage = "resolve"
	// StageConnect is opening the SSH session.
	StageConnect Stage = "connect"
	// StageDeploy is running the deployment routine.
	StageDeploy Stage = "deploy"
	// StagePersist is uploading the updated hashlist.
	StagePersist Stage = "persist"
	// StageClose is releasing the session.
	StageClose Stage = "close"
)

// HostError attributes an error to a host and stage.
type HostError struct {
	Host  string
	Stage Stage
	Err   error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host %s: %s: %v", e.Host, e.Stage, e.Err)
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with host context.
func WrapError(host string, stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &HostError{
		Host:  host,
		Stage: stage,
		Err:   err,
	}
}
