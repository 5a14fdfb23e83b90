package domain

import "errors"

var (
	// ErrTransport marks remote fetch or ping failures. Callers log and wait for the next tick.
	ErrTransport = errors.New("transport error")
	// ErrConfiguration marks a proxy config the platform rejected.
	ErrConfiguration = errors.New("configuration error")
	// ErrClassificationInput marks a malformed host or IP given to a classifier.
	ErrClassificationInput = errors.New("classification input error")
	// ErrEmptyPolicy means the blocklist was empty when a PAC was requested.
	ErrEmptyPolicy = errors.New("empty policy")
)
