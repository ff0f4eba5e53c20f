package model

import "time"

// TransportTarget is an already-resolved addressed recipient. Resolving a
// human-facing name to a target is the router's job, not the core's.
type TransportTarget struct {
	// Identifier is required, typically "name@domain".
	Identifier string

	// Address is an optional concrete address hint; its interpretation
	// depends on the transport attempting to use it (IP:port for
	// TCP/UDP/QUIC, URL for HTTP, email address for Email, mDNS instance
	// name for Mdns).
	Address string

	Urgency Urgency

	// RequiredCapabilities, when non-empty, restricts selection to
	// transports advertising every listed feature tag.
	RequiredCapabilities CapabilitySet

	// Deadline, when set, is the latest time by which delivery must be
	// attempted; the Manager does not extend its operation timeout past it.
	Deadline *time.Time
}

// HasDeadline reports whether the target carries an explicit deadline.
func (t *TransportTarget) HasDeadline() bool {
	return t != nil && t.Deadline != nil
}
