package realtime

import (
	"fmt"
	"strings"
)

// RoomKind distinguishes the two room namespaces.
type RoomKind string

const (
	// RoomBand groups all connections watching one band.
	RoomBand RoomKind = "band"
	// RoomRehearsal groups all connections watching one rehearsal.
	RoomRehearsal RoomKind = "rehearsal"
)

// RoomKey identifies one room. The same ID in different namespaces names
// different rooms.
type RoomKey struct {
	Kind RoomKind
	ID   string
}

// BandRoom returns the key for a band room.
func BandRoom(bandID string) RoomKey {
	return RoomKey{Kind: RoomBand, ID: strings.TrimSpace(bandID)}
}

// RehearsalRoom returns the key for a rehearsal room.
func RehearsalRoom(rehearsalID string) RoomKey {
	return RoomKey{Kind: RoomRehearsal, ID: strings.TrimSpace(rehearsalID)}
}

// Valid reports whether the key names a usable room.
func (k RoomKey) Valid() bool {
	if k.ID == "" {
		return false
	}
	return k.Kind == RoomBand || k.Kind == RoomRehearsal
}

// String renders the canonical room name, e.g. "band_7" or "rehearsal_12".
func (k RoomKey) String() string {
	return fmt.Sprintf("%s_%s", k.Kind, k.ID)
}
