package validation

import (
	"fmt"
	"regexp"
)

// RoomIDRegex validates client-supplied room ID format.
var RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateRoomID checks a room ID from the wire. Room IDs are the only
// identifier clients choose themselves; everything else is server-generated.
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room ID is required")
	}
	if len(roomID) > 100 {
		return fmt.Errorf("room ID is too long (max 100 characters)")
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("invalid room ID format")
	}
	return nil
}
