package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// EmailStatus is the dispatch state of an email.
type EmailStatus string

// Only the states the dispatch pipeline produces. Sending is transient and never persisted.
const (
	EmailStatusQueued  EmailStatus = "queued"
	EmailStatusSending EmailStatus = "sending"
	EmailStatusSent    EmailStatus = "sent"
	EmailStatusFailed  EmailStatus = "failed"
)

// Valid reports whether s is a known status.
func (s EmailStatus) Valid() bool {
	switch s {
	case EmailStatusQueued, EmailStatusSending, EmailStatusSent, EmailStatusFailed:
		return true
	}
	return false
}

// BodySnapshotLimit is the number of characters of a body kept on the email row.
const BodySnapshotLimit = 2000

const truncationSuffix = "..."

// Email is the durable record of a queued, sent or failed email.
type Email struct {
	ID                   uuid.UUID   `json:"id"`
	WorkspaceID          uuid.UUID   `json:"workspace_id"`
	EmailConfigurationID uuid.UUID   `json:"email_configuration_id"`
	FromAddress          string      `json:"from_address"`
	ToAddresses          []string    `json:"to_addresses"`
	CcAddresses          []string    `json:"cc_addresses,omitempty"`
	BccAddresses         []string    `json:"bcc_addresses,omitempty"`
	DisplayName          string      `json:"display_name,omitempty"`
	Subject              string      `json:"subject"`
	IsHTML               bool        `json:"is_html"`
	BodyHTML             *string     `json:"body_html,omitempty"`
	BodyPlainText        *string     `json:"body_plain_text,omitempty"`
	Status               EmailStatus `json:"status"`
	ErrorMessage         *string     `json:"error_message,omitempty"`
	ResponseMessage      *string     `json:"response_message,omitempty"`
	Retryable            bool        `json:"retryable"`
	JobID                *string     `json:"job_id,omitempty"`
	QueuedAt             time.Time   `json:"queued_at"`
	SentAt               *time.Time  `json:"sent_at,omitempty"`
	AttemptCount         int         `json:"attempt_count"`
	Version              int         `json:"-"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// NewQueuedEmail builds the initial record for a message accepted for dispatch.
func NewQueuedEmail(workspaceID, configurationID uuid.UUID, fromAddress string, msg OutboundMessage, now time.Time) *Email {
	e := &Email{
		ID:                   uuid.New(),
		WorkspaceID:          workspaceID,
		EmailConfigurationID: configurationID,
		FromAddress:          fromAddress,
		ToAddresses:          msg.To,
		CcAddresses:          msg.Cc,
		BccAddresses:         msg.Bcc,
		DisplayName:          msg.DisplayName,
		Subject:              msg.Subject,
		IsHTML:               msg.IsHTML,
		Status:               EmailStatusQueued,
		QueuedAt:             now.UTC(),
		AttemptCount:         0,
	}
	snapshot := TruncateBody(msg.Body)
	if msg.IsHTML {
		e.BodyHTML = &snapshot
	} else {
		e.BodyPlainText = &snapshot
	}
	return e
}

// Body returns whichever body snapshot matches IsHTML.
func (e *Email) Body() string {
	if e.IsHTML {
		if e.BodyHTML != nil {
			return *e.BodyHTML
		}
		return ""
	}
	if e.BodyPlainText != nil {
		return *e.BodyPlainText
	}
	return ""
}

// Message rebuilds an outbound message from the stored snapshot.
func (e *Email) Message() OutboundMessage {
	return OutboundMessage{
		To:          e.ToAddresses,
		Cc:          e.CcAddresses,
		Bcc:         e.BccAddresses,
		Subject:     e.Subject,
		Body:        e.Body(),
		IsHTML:      e.IsHTML,
		DisplayName: e.DisplayName,
	}
}

// BodyTruncated reports whether the stored snapshot was cut short.
func (e *Email) BodyTruncated() bool {
	body := e.Body()
	return utf8.RuneCountInString(body) == BodySnapshotLimit+len(truncationSuffix) && strings.HasSuffix(body, truncationSuffix)
}

// RecordAttempt marks the start of a send attempt.
func (e *Email) RecordAttempt(now time.Time) {
	t := now.UTC()
	e.AttemptCount++
	e.SentAt = &t
}

// MarkSent records a successful delivery to the SMTP server.
func (e *Email) MarkSent(response string) {
	e.Status = EmailStatusSent
	e.ErrorMessage = nil
	e.Retryable = false
	e.ResponseMessage = optional(response)
}

// MarkFailed records a failed attempt.
func (e *Email) MarkFailed(errMsg, response string, retryable bool) {
	e.Status = EmailStatusFailed
	e.ErrorMessage = optional(errMsg)
	e.ResponseMessage = optional(response)
	e.Retryable = retryable
}

// Requeue puts a failed email back in the queue under a new job. AttemptCount is kept.
func (e *Email) Requeue(jobID string) {
	e.Status = EmailStatusQueued
	e.ErrorMessage = nil
	e.ResponseMessage = nil
	e.Retryable = false
	e.JobID = &jobID
}

// OwnedBy reports whether jobID is the job currently responsible for this email.
func (e *Email) OwnedBy(jobID string) bool {
	return e.JobID != nil && *e.JobID == jobID
}

// TruncateBody cuts a body to BodySnapshotLimit characters and appends "..." when it was longer.
func TruncateBody(body string) string {
	if utf8.RuneCountInString(body) <= BodySnapshotLimit {
		return body
	}
	runes := []rune(body)
	return string(runes[:BodySnapshotLimit]) + truncationSuffix
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// EmailSummary is the list view of an email.
type EmailSummary struct {
	ID           uuid.UUID   `json:"id"`
	FromAddress  string      `json:"from_address"`
	ToAddresses  []string    `json:"to_addresses"`
	Subject      string      `json:"subject"`
	Status       EmailStatus `json:"status"`
	AttemptCount int         `json:"attempt_count"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	QueuedAt     time.Time   `json:"queued_at"`
	SentAt       *time.Time  `json:"sent_at,omitempty"`
}

// Summary returns the list view of e.
func (e *Email) Summary() EmailSummary {
	return EmailSummary{
		ID:           e.ID,
		FromAddress:  e.FromAddress,
		ToAddresses:  e.ToAddresses,
		Subject:      e.Subject,
		Status:       e.Status,
		AttemptCount: e.AttemptCount,
		ErrorMessage: e.ErrorMessage,
		QueuedAt:     e.QueuedAt,
		SentAt:       e.SentAt,
	}
}

// EmailFilter narrows ListEmails.
type EmailFilter struct {
	Status     EmailStatus
	Recipient  string
	Subject    string
	QueuedFrom *time.Time
	QueuedTo   *time.Time
	Ascending  bool
	Page       int
	PageSize   int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize applies paging defaults and bounds.
func (f *EmailFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
}

// Offset returns the row offset for the current page.
func (f EmailFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}
