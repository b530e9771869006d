package validation

import (
	"fmt"
	"unicode"

	"emberchat/internal/constants"
	"emberchat/internal/errors"
	"emberchat/internal/models"
)

// ValidateUserID checks a user identifier for length and character bounds.
func ValidateUserID(userID string) error {
	if userID == "" {
		return errors.Validation("user ID cannot be empty")
	}
	if len(userID) > constants.MaxUserIDLength {
		return errors.Validation(fmt.Sprintf("user ID too long (max %d characters)", constants.MaxUserIDLength))
	}
	return validateNoControlChars(userID, "user ID")
}

// ValidateMessageID checks a message identifier.
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.Validation("message ID cannot be empty")
	}
	if len(messageID) > constants.MaxMessageIDLength {
		return errors.Validation(fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}
	return validateNoControlChars(messageID, "message ID")
}

// ValidateOriginTag checks a presence partition label.
func ValidateOriginTag(origin string) error {
	if origin == "" {
		return errors.Validation("origin tag cannot be empty")
	}
	if len(origin) > constants.MaxOriginTagLength {
		return errors.Validation(fmt.Sprintf("origin tag too long (max %d characters)", constants.MaxOriginTagLength))
	}
	return validateNoControlChars(origin, "origin tag")
}

// ValidateContent requires at least one of text and image and enforces
// length bounds on both.
func ValidateContent(text, image string) error {
	if text == "" && image == "" {
		return errors.Validation("message must contain text or an image")
	}
	if len(text) > constants.MaxTextLength {
		return errors.Validation(fmt.Sprintf("text too long (max %d bytes)", constants.MaxTextLength))
	}
	if len(image) > constants.MaxImageURLLength {
		return errors.Validation(fmt.Sprintf("image URL too long (max %d bytes)", constants.MaxImageURLLength))
	}
	return nil
}

// ValidateEphemeralDuration bounds the burn countdown. Zero means "use the
// default"; negatives and excessive values are rejected.
func ValidateEphemeralDuration(seconds int) error {
	if seconds < 0 {
		return errors.Validation("ephemeral duration cannot be negative")
	}
	if seconds > constants.MaxEphemeralDurationSec {
		return errors.Validation(fmt.Sprintf("ephemeral duration too long (max %d seconds)", constants.MaxEphemeralDurationSec))
	}
	return nil
}

// ValidateDeleteMode checks the delete request mode.
func ValidateDeleteMode(mode models.DeleteMode) error {
	switch mode {
	case models.DeleteForMe, models.DeleteForEveryone:
		return nil
	default:
		return errors.Validation(fmt.Sprintf("invalid delete mode %q", mode))
	}
}

func validateNoControlChars(s, field string) error {
	for _, char := range s {
		if unicode.IsControl(char) {
			return errors.Validation(fmt.Sprintf("%s contains invalid characters", field))
		}
	}
	return nil
}
