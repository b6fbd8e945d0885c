package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// RoomIDRegex validates room identifier format.
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// UserIDRegex validates participant identifier format.
	UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

const (
	maxIDLength       = 100
	maxChatTextLength = 4000
	maxScriptLength   = 2000
)

// ValidateRoomID checks room identifier format. Identifiers are opaque and
// externally generated; only shape is enforced here.
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	if len(roomID) > maxIDLength {
		return fmt.Errorf("room id is too long (max %d characters)", maxIDLength)
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("room id may only contain letters, digits, '-' and '_'")
	}
	return nil
}

// ValidateUserID checks participant identifier format.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if len(userID) > maxIDLength {
		return fmt.Errorf("user id is too long (max %d characters)", maxIDLength)
	}
	if !UserIDRegex.MatchString(userID) {
		return fmt.Errorf("user id may only contain letters, digits, '-' and '_'")
	}
	return nil
}

// ValidateSDP performs a shape check on a session description blob before it
// is relayed. The relay never interprets SDP beyond this.
func ValidateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("sdp must not be empty")
	}
	if !strings.HasPrefix(sdp, "v=") {
		return fmt.Errorf("invalid sdp: must start with 'v='")
	}
	for _, field := range []string{"o=", "s="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid sdp: missing required field %q", field)
		}
	}
	return nil
}

// ValidateChatText checks a chat message body.
func ValidateChatText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("chat text must not be empty")
	}
	if utf8.RuneCountInString(text) > maxChatTextLength {
		return fmt.Errorf("chat text is too long (max %d characters)", maxChatTextLength)
	}
	return nil
}

// ValidateAvatarScript checks the free text submitted for avatar rendering.
func ValidateAvatarScript(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("script must not be empty")
	}
	if utf8.RuneCountInString(text) > maxScriptLength {
		return fmt.Errorf("script is too long (max %d characters)", maxScriptLength)
	}
	return nil
}
