package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"chatfeed/internal/constants"
	"chatfeed/internal/errors"
)

// MessageContent trims and validates outgoing message content. It returns the
// trimmed content; validation failures never reach the network layer.
func MessageContent(content string, maxLength int) (string, error) {
	if maxLength <= 0 {
		maxLength = constants.DefaultMaxContentLength
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", errors.NewValidationError("content", "message cannot be empty")
	}

	if !utf8.ValidString(trimmed) {
		return "", errors.NewValidationError("content", "message must be valid UTF-8")
	}

	if utf8.RuneCountInString(trimmed) > maxLength {
		return "", errors.NewValidationError("content",
			fmt.Sprintf("message exceeds %d characters", maxLength))
	}

	return trimmed, nil
}

// MessageID validates a message id before it is used in a request.
func MessageID(id string) error {
	if id == "" {
		return errors.New(errors.ErrCodeInvalidInput, "message ID cannot be empty")
	}

	if len(id) > constants.MaxMessageIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}

	return nil
}

// GroupID validates a group id before it is used in a request.
func GroupID(id string) error {
	if id == "" {
		return errors.New(errors.ErrCodeInvalidInput, "group ID cannot be empty")
	}

	if len(id) > constants.MaxGroupIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("group ID too long (max %d characters)", constants.MaxGroupIDLength))
	}

	return nil
}
