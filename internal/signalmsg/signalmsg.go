// Package signalmsg defines the gateway's wire envelope and decodes it
// into signalbridge's internal message model.
package signalmsg

import (
	"encoding/json"
	"fmt"
)

// Envelope is the outer JSON object delivered by the gateway over the
// receive WebSocket, wrapping one message event for a registered
// account.
type Envelope struct {
	Account      string `json:"account"`
	Source       string `json:"source"`
	SourceNumber string `json:"sourceNumber,omitempty"`
	SourceUUID   string `json:"sourceUuid,omitempty"`
	SourceName   string `json:"sourceName,omitempty"`
	SourceDevice int    `json:"sourceDevice,omitempty"`

	Timestamp                int64 `json:"timestamp"`
	ServerReceivedTimestamp  int64 `json:"serverReceivedTimestamp"`
	ServerDeliveredTimestamp int64 `json:"serverDeliveredTimestamp,omitempty"`

	DataMessage *DataMessage    `json:"dataMessage,omitempty"`
	SyncMessage json.RawMessage `json:"syncMessage,omitempty"` // currently ignored
}

// DataMessage is the inner payload of an Envelope carrying the actual
// message content.
type DataMessage struct {
	Timestamp   int64        `json:"timestamp"`
	Message     *string      `json:"message"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Sticker     *Sticker     `json:"sticker,omitempty"`
	Mentions    []Mention    `json:"mentions,omitempty"`
	GroupInfo   *GroupInfo   `json:"groupInfo,omitempty"`
}

// Attachment describes a file attached to a message. Only its presence
// matters to the router; its fields are carried for completeness.
type Attachment struct {
	ContentType string `json:"contentType,omitempty"`
	Filename    string `json:"filename,omitempty"`
	ID          string `json:"id,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Sticker describes a sticker pack reference. Only its presence matters
// to the router.
type Sticker struct {
	PackID    string `json:"packId,omitempty"`
	StickerID int    `json:"stickerId,omitempty"`
}

// Mention is a typed reference to an account inside a message's text
// span.
type Mention struct {
	Name   string `json:"name,omitempty"`
	Number string `json:"number,omitempty"`
	UUID   string `json:"uuid,omitempty"`
	Start  int    `json:"start"`
	Length int    `json:"length"`
}

// GroupInfo marks a message as belonging to a group conversation.
// GroupID is the gateway's opaque internal identifier; resolving it to
// an externally addressable public id is the group resolver's job.
type GroupInfo struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName,omitempty"`
	Revision  int    `json:"revision,omitempty"`
	Type      string `json:"type,omitempty"`
}

const (
	// TextSticker is synthesized as the message text when a
	// DataMessage has no text body but carries a sticker.
	TextSticker = "STICKER"

	// TextAttachment is synthesized as the message text when a
	// DataMessage has no text body, no sticker, but carries one or
	// more attachments.
	TextAttachment = "ATTACHMENT"
)

// Decode parses raw gateway JSON into an Envelope. Decode failures
// should be logged with the raw payload by the caller and the envelope
// dropped; they do not stop the receive loop.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

// Encode serializes an Envelope back to JSON. Used by tests to verify
// Decode ∘ Encode is identity on the fields the model retains.
func Encode(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// SynthesizeText returns the effective message text for a DataMessage:
// the literal message if present, else "STICKER" if a sticker is
// present, else "ATTACHMENT" if any attachments are present, else nil.
// It does not mutate dm.
func SynthesizeText(dm *DataMessage) *string {
	if dm.Message != nil {
		return dm.Message
	}
	if dm.Sticker != nil {
		s := TextSticker
		return &s
	}
	if len(dm.Attachments) > 0 {
		s := TextAttachment
		return &s
	}
	return nil
}

// MentionsAccount reports whether any mention in mentions names
// account. Comparison is exact (mentions carry the account's own
// identifier verbatim, not a user-entered string), matching the
// router's step 6 group-mention test.
func MentionsAccount(mentions []Mention, account string) bool {
	for _, m := range mentions {
		if m.Name == account {
			return true
		}
	}
	return false
}
