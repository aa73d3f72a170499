package orchestrator

import "errors"

var (
	// ErrProvisioningTimeout means the instance never reached running
	// state within the polling budget. The instance has been destroyed.
	ErrProvisioningTimeout = errors.New("instance did not reach running state")

	// ErrInstanceError means the marketplace reported an error status
	// for the instance. The instance has been destroyed.
	ErrInstanceError = errors.New("instance reported an error status")

	// ErrEndpointUnresolved means no usable endpoint (ip:port or tunnel
	// URL) could be derived. The instance has been destroyed.
	ErrEndpointUnresolved = errors.New("could not resolve worker endpoint")

	// ErrWorkerNotReady means the inference server never answered its
	// liveness probe. The instance has been destroyed.
	ErrWorkerNotReady = errors.New("worker did not become ready")

	// ErrInstanceNotFound means the requested id is not in the live set.
	ErrInstanceNotFound = errors.New("instance not found")
)
