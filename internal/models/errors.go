package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicateMessage reports an insert that hit the unique key on
	// wa_message_id. Ingestion treats it as already handled.
	ErrDuplicateMessage = errors.New("message already stored")
)

// SendError is a definitive outbound delivery failure, reported after the
// verification probe ruled out a false negative.
type SendError struct {
	Recipient string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.Recipient, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
