// Package auth implements the challenge/response handshake run on every fresh
// button link before it is declared Ready.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/radio"
	"golang.org/x/crypto/hkdf"
)

const (
	// NonceSize is the length of the challenge written to the button.
	NonceSize = 16
	// ResponseSize is the truncated HMAC length the button answers with.
	ResponseSize = 16

	keySize = 32
	keyInfo = "buttond-auth"
)

// Authenticator implements button.Authenticator.
type Authenticator struct {
	secret []byte
	logger *logrus.Logger
	rand   io.Reader
}

var _ button.Authenticator = (*Authenticator)(nil)

// New creates an authenticator bound to the application secret.
func New(secret []byte, logger *logrus.Logger) *Authenticator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Authenticator{secret: append([]byte(nil), secret...), logger: logger, rand: rand.Reader}
}

// DeriveKey derives the per-button link key from the application secret and
// the button's public key.
func DeriveKey(secret []byte, publicKey string) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, []byte(publicKey), []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive link key: %w", err)
	}
	return key, nil
}

// Response computes the answer a genuine button returns for nonce.
func Response(key, nonce []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(nonce)
	return mac.Sum(nil)[:ResponseSize]
}

// Authenticate writes a fresh nonce to the auth characteristic and verifies the
// button's answer.
func (a *Authenticator) Authenticate(ctx context.Context, b button.Button, link button.Link) error {
	if b.PublicKey == "" {
		return button.NewError(button.CryptographicFailure, button.CodeMissingData, "button %s has no public key", b.ID)
	}
	key, err := DeriveKey(a.secret, b.PublicKey)
	if err != nil {
		return button.WrapError(button.CryptographicFailure, button.CodeCryptographicFailure, err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(a.rand, nonce); err != nil {
		return button.WrapError(button.CryptographicFailure, button.CodeCryptographicFailure, fmt.Errorf("generate nonce: %w", err))
	}

	if err := link.WriteCharacteristic(ctx, radio.AuthCharUUID, nonce); err != nil {
		return button.WrapError(button.TransportError, button.CodeBluetoothUnknown, fmt.Errorf("write challenge: %w", err))
	}
	answer, err := link.ReadCharacteristic(ctx, radio.AuthCharUUID)
	if err != nil {
		return button.WrapError(button.TransportError, button.CodeBluetoothUnknown, fmt.Errorf("read response: %w", err))
	}

	expected := Response(key, nonce)
	if len(answer) != ResponseSize || subtle.ConstantTimeCompare(answer, expected) != 1 {
		a.logger.WithField("button", b.ID).Warn("Authentication response mismatch")
		return button.NewError(button.CryptographicFailure, button.CodeInvalidSignature, "invalid signature from %s", b.ID)
	}

	a.logger.WithField("button", b.ID).Debug("Button authenticated")
	return nil
}
