// Package errs defines the failure classes of the synchronization layer.
// Each class is handled at the boundary where it is detected and never
// escalates past the coordinator.
package errs

import "fmt"

// TransportError reports a socket error or unexpected close.
type TransportError struct {
	Remote string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (remote=%s): %v", e.Remote, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed envelope or an unrecognized type code.
type ProtocolError struct {
	Code   int // -1 when the envelope carried no readable code
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Code < 0 {
		return fmt.Sprintf("protocol error: %s", e.Reason)
	}
	return fmt.Sprintf("protocol error (type=%d): %s", e.Code, e.Reason)
}

// IdentityMismatchError reports a payload claiming an id other than the one
// bound to the channel it arrived on.
type IdentityMismatchError struct {
	Claimed string
	Bound   string
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("identity mismatch: claimed %q on channel bound to %q", e.Claimed, e.Bound)
}

// SignalingFailure reports a rejected offer/answer/candidate step.
type SignalingFailure struct {
	PlayerID string
	Step     string
	Err      error
}

func (e *SignalingFailure) Error() string {
	return fmt.Sprintf("signaling failed for %s at %s: %v", e.PlayerID, e.Step, e.Err)
}

func (e *SignalingFailure) Unwrap() error { return e.Err }

// HostDeparted reports that the mesh host is gone.
type HostDeparted struct {
	HostID string
}

func (e *HostDeparted) Error() string {
	return fmt.Sprintf("host %s departed", e.HostID)
}
