// Package protocol defines the admin event envelope broadcast over the
// pool's live event feed, and the pluggable body codec used to encode it
// and the OOBW probe's request/response bodies.
package protocol

import (
	"fmt"
)

// EventType classifies one admin event, mirroring the lifecycle
// transitions spec.md's Group/Process state machines go through.
type EventType string

const (
	EventProcessAttached EventType = "process_attached"
	EventProcessDetached EventType = "process_detached"
	EventGroupRestarting EventType = "group_restarting"
	EventGroupRestarted  EventType = "group_restarted"
	EventOOBWStarted     EventType = "oobw_started"
	EventOOBWFinished    EventType = "oobw_finished"
)

// Event is one envelope sent to every connected admin websocket client.
type Event struct {
	Type      EventType `json:"type"`
	Group     string    `json:"group,omitempty"`
	Pid       int       `json:"pid,omitempty"`
	Gupid     string    `json:"gupid,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Marshal serializes the event through the configured Codec.
func (e *Event) Marshal(codec Codec) ([]byte, error) {
	data, err := codec.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal event: %w", err)
	}
	return data, nil
}
