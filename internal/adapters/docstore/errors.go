package docstore

import "errors"

// Sentinel errors for document stores.
var (
	ErrClosed       = errors.New("document store closed")
	ErrSubscription = errors.New("subscription failed")
	ErrEmptyID      = errors.New("document id is empty")
)
