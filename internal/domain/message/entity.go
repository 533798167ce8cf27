package message

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"pulse-dm/internal/domain/user"
	pulse_errors "pulse-dm/pkg/errors"

	"github.com/google/uuid"
)

type Type string

const (
	TypeText  Type = "text"
	TypeImage Type = "image"
	TypeVideo Type = "video"
)

const (
	MaxContentLength  = 5000
	MaxReactionLength = 16
	MaxAttachments    = 10
)

func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeVideo:
		return true
	}
	return false
}

// Attachment is media that was already uploaded to external storage.
type Attachment struct {
	Type      Type     `json:"type"`
	URL       string   `json:"url"`
	Name      string   `json:"name,omitempty"`
	Size      int64    `json:"size,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`
	Thumbnail string   `json:"thumbnail,omitempty"`
}

// Message represents the messages table
type Message struct {
	ID             uuid.UUID         `json:"id"`
	ConversationID uuid.UUID         `json:"conversationId"`
	SenderID       string            `json:"senderId"`
	Content        string            `json:"content"`
	Type           Type              `json:"messageType"`
	Attachments    []Attachment      `json:"attachments,omitempty"`
	ReplyTo        *uuid.UUID        `json:"replyTo,omitempty"`
	Reactions      map[string]string `json:"reactions,omitempty"`
	EditedAt       *time.Time        `json:"editedAt,omitempty"`
	DeletedAt      *time.Time        `json:"deletedAt,omitempty"`
	ReadBy         []string          `json:"readBy"`
	DeliveredTo    []string          `json:"deliveredTo"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`

	Sender *user.Profile `json:"sender,omitempty"`
}

// ValidateContent enforces the per-type content rules.
func ValidateContent(t Type, content string) error {
	if !t.Valid() {
		return fmt.Errorf("%w: unknown message type %q", pulse_errors.ErrValidation, t)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", pulse_errors.ErrValidation, MaxContentLength)
	}
	if t == TypeText && strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content cannot be empty", pulse_errors.ErrValidation)
	}
	return nil
}

func ValidateAttachments(attachments []Attachment) error {
	if len(attachments) > MaxAttachments {
		return fmt.Errorf("%w: at most %d attachments", pulse_errors.ErrValidation, MaxAttachments)
	}
	for i, a := range attachments {
		if a.Type != TypeImage && a.Type != TypeVideo {
			return fmt.Errorf("%w: attachment %d has invalid type %q", pulse_errors.ErrValidation, i, a.Type)
		}
		if strings.TrimSpace(a.URL) == "" {
			return fmt.Errorf("%w: attachment %d is missing url", pulse_errors.ErrValidation, i)
		}
		if a.Size < 0 {
			return fmt.Errorf("%w: attachment %d has negative size", pulse_errors.ErrValidation, i)
		}
	}
	return nil
}

func ValidateReaction(reaction string) error {
	if utf8.RuneCountInString(reaction) > MaxReactionLength {
		return fmt.Errorf("%w: reaction exceeds %d characters", pulse_errors.ErrValidation, MaxReactionLength)
	}
	return nil
}

func (m Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

func (m Message) IsReadBy(userID string) bool {
	return slices.Contains(m.ReadBy, userID)
}

// Tombstone returns a copy safe to hand out for a deleted message: the row
// metadata stays, the body does not.
func (m Message) Tombstone() Message {
	if !m.IsDeleted() {
		return m
	}
	m.Content = ""
	m.Attachments = nil
	m.Reactions = nil
	m.ReplyTo = nil
	return m
}
