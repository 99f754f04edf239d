// Package events carries the host's domain events from the measurement
// pipeline to its consumers over an in-process bus with the ability for
// multiple clients to subscribe.
package events

import (
	"fmt"
	"time"
)

// Kind names a class of domain event.
type Kind string

const (
	KindConnectionStatus   Kind = "connection-status"
	KindChannelReading     Kind = "channel-reading"
	KindChannelLocked      Kind = "channel-locked"
	KindChannelCompleted   Kind = "channel-completed"
	KindExperimentComplete Kind = "experiment-complete"
	KindCollectionTimeout  Kind = "collection-timeout"
)

// NoChannel marks events that are not scoped to a single direction.
const NoChannel = -1

// Event is one bus message. Channel is NoChannel for events that concern
// the whole rig rather than one direction.
type Event struct {
	Kind       Kind      `json:"kind"`
	Time       time.Time `json:"time"`
	Channel    int       `json:"channel"`
	DistanceMm int       `json:"distance_mm"`
	Status     string    `json:"status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

func (e Event) String() string {
	if e.Channel == NoChannel {
		return fmt.Sprintf("%s %s", e.Kind, e.Status)
	}
	return fmt.Sprintf("%s ch%d %dmm", e.Kind, e.Channel, e.DistanceMm)
}
