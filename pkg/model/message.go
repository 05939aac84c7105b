package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const MaxMessageLength = 512

// MaxCiphertextLength bounds sealed private-message payloads. JSON carries
// byte slices as base64 (4/3 expansion), so the bound keeps the encoded
// event, envelope included, under the protocol's frame limit.
const MaxCiphertextLength = 32 * 1024

var ErrMessageEmpty = errors.New("message contents cannot be empty")
var ErrMessageTooLong = fmt.Errorf("message contents exceed %d characters", MaxMessageLength)
var ErrCiphertextTooLong = fmt.Errorf("ciphertext exceeds %d bytes", MaxCiphertextLength)

// ValidateMessage checks public chat message contents. Encrypted private
// message payloads are opaque bytes and are not validated here.
func ValidateMessage(contents string) error {
	if strings.TrimSpace(contents) == "" {
		return ErrMessageEmpty
	}
	if utf8.RuneCountInString(contents) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
