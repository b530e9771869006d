package privacy

// User and message identifiers are still identifying data; logs carry only a
// short prefix unless verbose logging is explicitly enabled.

const (
	userIDVisiblePrefix    = 4
	messageIDVisiblePrefix = 8
)

// MaskUserID keeps the first few characters of a user id for correlation.
func MaskUserID(userID string) string {
	return maskTail(userID, userIDVisiblePrefix)
}

// MaskMessageID keeps the first few characters of a message id.
func MaskMessageID(messageID string) string {
	return maskTail(messageID, messageIDVisiblePrefix)
}

func maskTail(s string, visible int) string {
	if len(s) <= visible {
		return s
	}
	return s[:visible] + "***"
}
