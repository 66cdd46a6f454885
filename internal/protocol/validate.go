package protocol

import "unicode/utf8"

const (
	MaxIdentityLength = 32
	MaxChannelLength  = 64
)

func ValidateIdentity(id string) error {
	if n := utf8.RuneCountInString(id); n < 1 || n > MaxIdentityLength {
		return ErrInvalidIdentity
	}
	return nil
}

func ValidateChannel(channel string) error {
	if n := utf8.RuneCountInString(channel); n < 1 || n > MaxChannelLength {
		return ErrInvalidChannel
	}
	return nil
}

// CheckSize rejects frames larger than limit. A non-positive limit disables
// the check.
func CheckSize(data []byte, limit int) error {
	if limit > 0 && len(data) > limit {
		return ErrMessageTooLarge
	}
	return nil
}
