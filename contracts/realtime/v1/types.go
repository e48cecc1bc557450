// Package v1 defines the Bandroom Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeJoinBand subscribes the connection to a band room (client -> server).
	TypeJoinBand = "join_band"
	// TypeJoinRehearsal subscribes the connection to a rehearsal room (client -> server).
	TypeJoinRehearsal = "join_rehearsal"

	// TypeUpdateAvailability reports an availability change for a rehearsal (client -> server).
	TypeUpdateAvailability = "update_availability"
	// TypeCreateRehearsal announces a newly created rehearsal (client -> server).
	TypeCreateRehearsal = "create_rehearsal"
	// TypeUpdateRehearsal announces a rehearsal update (client -> server).
	TypeUpdateRehearsal = "update_rehearsal"

	// TypeAvailabilityUpdated is broadcast to the rehearsal room, excluding the
	// originating connection (server -> room members).
	TypeAvailabilityUpdated = "availability_updated"
	// TypeRehearsalCreated is broadcast to the full band room, including the
	// originating connection (server -> room members).
	TypeRehearsalCreated = "rehearsal_created"
	// TypeRehearsalUpdated is broadcast to the full band room, including the
	// originating connection (server -> room members).
	TypeRehearsalUpdated = "rehearsal_updated"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeJoinBand,
		TypeJoinRehearsal,
		TypeUpdateAvailability,
		TypeCreateRehearsal,
		TypeUpdateRehearsal,
		TypeAvailabilityUpdated,
		TypeRehearsalCreated,
		TypeRehearsalUpdated,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// JoinBandPayload requests membership in a band room.
type JoinBandPayload struct {
	BandID string `json:"bandId"`
}

// JoinRehearsalPayload requests membership in a rehearsal room.
type JoinRehearsalPayload struct {
	RehearsalID string `json:"rehearsalId"`
}

// AvailabilityPayload carries one member's availability for a rehearsal.
// It is relayed verbatim as availability_updated to the other room members.
type AvailabilityPayload struct {
	RehearsalID string `json:"rehearsalId"`
	UserID      string `json:"userId"`
	Status      string `json:"status"`
}

// RehearsalPayload describes a rehearsal create/update within a band.
// It is relayed verbatim as rehearsal_created / rehearsal_updated to the
// full band room.
type RehearsalPayload struct {
	BandID      string `json:"bandId"`
	RehearsalID string `json:"rehearsalId"`
	Title       string `json:"title"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
