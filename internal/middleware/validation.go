package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	maxIDLength      = 128
	maxContentLength = 100000
	maxNameLength    = 256
)

// ValidateMessageContent validates message content. Empty content is
// allowed here; the message service decides whether a send is empty.
func ValidateMessageContent(content string) error {
	if len(content) > maxContentLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateID validates a record id taken from the URL.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if len(id) > maxIDLength {
		return errors.New("id exceeds maximum length")
	}
	if strings.ContainsAny(id, "/?#") {
		return errors.New("invalid id format")
	}
	return nil
}

// ValidateName validates a conversation or analysis name.
func ValidateName(name string) error {
	if len(name) > maxNameLength {
		return errors.New("name exceeds maximum length")
	}
	if !utf8.ValidString(name) {
		return errors.New("name must be valid UTF-8")
	}
	return nil
}
