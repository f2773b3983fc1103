package transport

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/emailez/backend/internal/models"
)

// Compose renders msg as a MIME document and returns it with the envelope recipients.
// The request's display name overrides the configuration's. Bcc recipients are not written to headers.
func Compose(msg models.OutboundMessage, cfg *models.EmailConfiguration, now time.Time) ([]byte, []string, error) {
	name := cfg.DisplayName
	if msg.DisplayName != "" {
		name = msg.DisplayName
	}
	b := enmime.Builder().
		From(name, cfg.FromAddress).
		Subject(msg.Subject).
		Date(now)
	for _, addr := range msg.To {
		b = b.To("", addr)
	}
	for _, addr := range msg.Cc {
		b = b.CC("", addr)
	}
	for _, addr := range msg.Bcc {
		b = b.BCC("", addr)
	}
	if msg.IsHTML {
		b = b.HTML([]byte(msg.Body))
	} else {
		b = b.Text([]byte(msg.Body))
	}

	root, err := b.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build message: %w", err)
	}
	var buf bytes.Buffer
	if err := root.Encode(&buf); err != nil {
		return nil, nil, fmt.Errorf("encode message: %w", err)
	}
	return buf.Bytes(), msg.Recipients(), nil
}
