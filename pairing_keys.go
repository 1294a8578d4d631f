package broker

import (
	"crypto/sha256"
	"io"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/hkdf"
)

const (
	// confirmationAlphabet excludes ambiguous characters (0, O, 1, I, L).
	confirmationAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// ConfirmationCodeLength is the number of characters both endpoints
	// display for visual comparison.
	ConfirmationCodeLength = 8

	channelKeySize  = 32
	channelKeyLabel = "pairing-channel:"
)

// DeriveChannelKey derives the 32-byte symmetric key both pairing endpoints
// use for a channel, binding the shared secret to the channel id. The same
// (channelID, secret) pair always yields the same key.
func DeriveChannelKey(channelID, secret string) ([]byte, error) {
	if channelID == "" || secret == "" {
		return nil, goerrors.New("channel id and secret are required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(channelKeyLabel+channelID))
	key := make([]byte, channelKeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to derive channel key")
	}
	return key, nil
}

// ConfirmationCodeFromKey maps key material onto the unambiguous display
// alphabet. Both endpoints derive the same code from the same key, so users
// can compare devices without typing anything.
func ConfirmationCodeFromKey(key []byte) string {
	if len(key) == 0 {
		return ""
	}

	code := make([]byte, ConfirmationCodeLength)
	for i := range code {
		code[i] = confirmationAlphabet[int(key[i%len(key)])%len(confirmationAlphabet)]
	}
	return string(code)
}
