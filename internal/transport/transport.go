// Package transport delivers outbound messages over SMTP.
package transport

import (
	"context"

	"github.com/emailez/backend/internal/models"
)

// Error prefixes let operators tell failure categories apart from the stored message alone.
const (
	PrefixDecryption = "Credential decryption failed: "
	PrefixAuth       = "SMTP authentication failed: "
	PrefixCommand    = "SMTP command failed: "
	PrefixGeneric    = "Failed to send email: "
)

// Result is the outcome of one delivery attempt.
type Result struct {
	Success      bool
	ErrorMessage string
	RawResponse  string
	// Retryable is false for failures another attempt cannot fix (bad credentials, undecryptable password).
	Retryable bool
}

// Sender delivers a message using a workspace's SMTP configuration.
type Sender interface {
	Send(ctx context.Context, msg models.OutboundMessage, cfg *models.EmailConfiguration) Result
}

// Decryptor recovers the plaintext SMTP password.
type Decryptor interface {
	Decrypt(ciphertext string) (string, error)
}

func failure(msg, response string, retryable bool) Result {
	return Result{Success: false, ErrorMessage: msg, RawResponse: response, Retryable: retryable}
}
