package middleware

import (
	"errors"
	"fmt"
)

// ErrEmptyMessage is returned for blank chat messages
var ErrEmptyMessage = errors.New("message is required")

// MessageTooLongError is returned when a message exceeds the configured limit
type MessageTooLongError struct {
	Length int
	Max    int
}

func (e *MessageTooLongError) Error() string {
	return fmt.Sprintf("message too long: %d characters (max %d)", e.Length, e.Max)
}
