package agent

import "errors"

var (
	// ErrRemoteFetch marks a failed controller call for one device.
	ErrRemoteFetch = errors.New("controller request failed")
	// ErrHypervisorOperation marks a failed switch or port operation on the host.
	ErrHypervisorOperation = errors.New("hypervisor operation failed")
	ErrCyclePanic          = errors.New("panic in polling cycle")
)
