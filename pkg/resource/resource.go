// Package resource defines the compute resource model for ttlkeeper.
package resource

import (
	"strings"
	"time"
)

// State is the provider-reported lifecycle state of an instance.
type State string

const (
	StatePending      State = "pending"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
	StateShuttingDown State = "shutting-down"
	StateTerminated   State = "terminated"
	StateUnknown      State = "unknown"
)

// ParseState maps a provider state name onto State. Anything unrecognised is StateUnknown.
func ParseState(s string) State {
	switch st := State(strings.ToLower(strings.TrimSpace(s))); st {
	case StatePending, StateRunning, StateStopping, StateStopped, StateShuttingDown, StateTerminated:
		return st
	default:
		return StateUnknown
	}
}

// Resource is a compute instance as seen by the provider.
type Resource struct {
	ID           string            `json:"id"`            // Provider-assigned identifier (e.g., "i-abc123")
	State        State             `json:"state"`         // Current state
	Tags         map[string]string `json:"tags"`          // Raw provider tags
	InstanceType string            `json:"instance_type"` // e.g., "t3.micro"
	LaunchTime   time.Time         `json:"launch_time"`   // Provider launch time, informational only
}

// Name returns the Name tag, if any.
func (r Resource) Name() string {
	return r.Tags["Name"]
}

// Outcome is the provider's answer for one resource of a batch call.
type Outcome struct {
	ID       string
	Previous State
	Current  State
	Err      error
}

// OK reports whether the provider accepted the operation for this resource.
func (o Outcome) OK() bool {
	return o.Err == nil
}
