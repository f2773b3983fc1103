package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/emailez/backend/internal/models"
)

// ImplicitTLSPort is the submission port that expects TLS from the first byte.
const ImplicitTLSPort = 465

var _ Sender = (*SMTPSender)(nil)

// SMTPSender sends through the SMTP server named by the configuration.
type SMTPSender struct {
	decryptor Decryptor
	tlsConfig *tls.Config
	logger    *zap.Logger
	now       func() time.Time
}

// Option customizes an SMTPSender.
type Option func(*SMTPSender)

// WithTLSConfig sets the base TLS configuration. ServerName is filled per connection.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *SMTPSender) { s.tlsConfig = cfg }
}

// NewSMTPSender creates an SMTP transport.
func NewSMTPSender(decryptor Decryptor, logger *zap.Logger, opts ...Option) *SMTPSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SMTPSender{decryptor: decryptor, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send decrypts the password, connects, authenticates and transmits msg.
// The connection is closed on every path.
func (s *SMTPSender) Send(ctx context.Context, msg models.OutboundMessage, cfg *models.EmailConfiguration) Result {
	password, err := s.decryptor.Decrypt(cfg.EncryptedPassword)
	if err != nil {
		s.logger.Warn("smtp password decryption failed", zap.String("configuration_id", cfg.ID.String()), zap.Error(err))
		return failure(PrefixDecryption+err.Error(), "", false)
	}

	raw, recipients, err := Compose(msg, cfg, s.now())
	if err != nil {
		return failure(PrefixGeneric+err.Error(), "", false)
	}
	if err := ctx.Err(); err != nil {
		return failure(PrefixGeneric+err.Error(), "", true)
	}

	c, err := s.dial(cfg)
	if err != nil {
		return failure(PrefixGeneric+err.Error(), "", true)
	}
	defer c.Close()

	if cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", cfg.Username, password)); err != nil {
			return failure(PrefixAuth+err.Error(), smtpResponse(err), false)
		}
	}

	if err := c.Mail(cfg.FromAddress, nil); err != nil {
		return commandFailure(err)
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return commandFailure(err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return commandFailure(err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return commandFailure(err)
	}
	resp, err := w.CloseWithResponse()
	if err != nil {
		return commandFailure(err)
	}
	if err := c.Quit(); err != nil {
		s.logger.Debug("smtp quit", zap.String("host", cfg.Host), zap.Error(err))
	}

	var statusText string
	if resp != nil {
		statusText = resp.StatusText
	}
	return Result{Success: true, RawResponse: statusText}
}

func (s *SMTPSender) dial(cfg *models.EmailConfiguration) (*smtp.Client, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	switch {
	case cfg.UseTLS && cfg.Port == ImplicitTLSPort:
		return smtp.DialTLS(addr, s.tlsConfigFor(cfg.Host))
	case cfg.UseTLS:
		return smtp.DialStartTLS(addr, s.tlsConfigFor(cfg.Host))
	default:
		return smtp.Dial(addr)
	}
}

func (s *SMTPSender) tlsConfigFor(host string) *tls.Config {
	var cfg *tls.Config
	if s.tlsConfig != nil {
		cfg = s.tlsConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

// commandFailure classifies errors after authentication. Server rejections keep their reply code.
func commandFailure(err error) Result {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return failure(fmt.Sprintf("%s%d %s", PrefixCommand, smtpErr.Code, smtpErr.Message), smtpErr.Error(), true)
	}
	return failure(PrefixGeneric+err.Error(), "", true)
}

func smtpResponse(err error) string {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return smtpErr.Error()
	}
	return ""
}
