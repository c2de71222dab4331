package usecase

import "errors"

// ErrNoConversation is returned by SendMessage when no conversation is current.
var ErrNoConversation = errors.New("no conversation initialized")

// errorMessage renders err for State.Error, falling back when err has no text.
func errorMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}
