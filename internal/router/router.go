// Package router implements the per-envelope decision procedure that
// orchestrates every other component (C8 Message Router).
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nugget/signalbridge/internal/archive"
	"github.com/nugget/signalbridge/internal/gateway"
	"github.com/nugget/signalbridge/internal/signalmsg"
)

// Authorizer gates messages by sender identity (C3).
type Authorizer interface {
	Allowed(identifier string) bool
}

// GroupResolver translates an internal group id to its public id (C2).
type GroupResolver interface {
	Resolve(ctx context.Context, internalID string) (string, error)
}

// Archiver enqueues a record for durable storage (C1).
type Archiver interface {
	Enqueue(ctx context.Context, record archive.MessageRecord) error
}

// SignalClient performs the gateway's outbound operations (C4).
// SendMessage performs its own outbound archival on success, per spec
// §4.8 step 9 — the router does not archive outbound records itself.
type SignalClient interface {
	SendMessage(ctx context.Context, message, recipient, source string, groupChat *string) (*gateway.SendResult, error)
	IndicateTyping(ctx context.Context, recipient string) error
	HideIndicator(ctx context.Context, recipient string) error
}

// Assistant calls the conversational assistant webhook (C5).
type Assistant interface {
	Ask(ctx context.Context, message, userID string) (string, error)
}

// Router wires C1–C6 together and implements the step-by-step
// procedure in spec §4.8.
type Router struct {
	account    string
	authz      Authorizer
	groups     GroupResolver
	archiver   Archiver
	signal     SignalClient
	assistant  Assistant
	logger     *slog.Logger
	now        func() time.Time
}

// New builds a Router serving account.
func New(account string, authz Authorizer, groups GroupResolver, archiver Archiver, signal SignalClient, assistant Assistant, logger *slog.Logger) *Router {
	return &Router{
		account:   account,
		authz:     authz,
		groups:    groups,
		archiver:  archiver,
		signal:    signal,
		assistant: assistant,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle runs the full decision procedure for one decoded envelope,
// per spec §4.8 steps 1–10. It never panics or propagates an error to
// the caller: every failure mode is logged and handled in place so the
// receive loop can always proceed to the next frame.
func (r *Router) Handle(ctx context.Context, env *signalmsg.Envelope) {
	if env.DataMessage == nil {
		r.logger.Debug("router: envelope has no dataMessage, dropping", "source", env.Source)
		return
	}
	dm := env.DataMessage

	text := signalmsg.SynthesizeText(dm)

	if !r.authz.Allowed(env.Source) {
		r.logger.Warn("router: sender not authorized, dropping", "source", env.Source)
		return
	}

	var groupID *string
	if dm.GroupInfo != nil {
		pub, err := r.groups.Resolve(ctx, dm.GroupInfo.GroupID)
		if err != nil {
			r.logger.Warn("router: group resolution failed, continuing without group id", "internalId", dm.GroupInfo.GroupID, "error", err)
		} else {
			groupID = &pub
		}
	}

	record := archive.MessageRecord{
		Timestamp:               msToTime(dm.Timestamp),
		SignalReceivedTimestamp: msToTime(env.ServerReceivedTimestamp),
		Target:                  r.account,
		Source:                  env.Source,
		GroupChat:               groupID,
		Mentions:                encodeMentions(dm.Mentions),
		Content:                 text,
		CreatedAt:               r.now(),
	}
	if env.ServerDeliveredTimestamp != 0 {
		t := msToTime(env.ServerDeliveredTimestamp)
		record.SignalDeliveredTimestamp = &t
	}

	if err := r.archiver.Enqueue(ctx, record); err != nil {
		r.logger.Error("router: inbound archive enqueue failed, continuing", "error", err)
	}

	if dm.GroupInfo != nil && !signalmsg.MentionsAccount(dm.Mentions, r.account) {
		// Group message not addressed to us: archived only, per §4.8
		// step 6.
		return
	}

	conversationID := env.Source
	if groupID != nil {
		conversationID = *groupID
	}

	if err := r.signal.IndicateTyping(ctx, conversationID); err != nil {
		r.logger.Warn("router: typing indicator failed, continuing", "recipient", conversationID, "error", err)
	}

	if text == nil {
		// Nothing to ask the assistant; step 8 requires message text.
		_ = r.signal.HideIndicator(ctx, conversationID)
		return
	}

	reply, err := r.assistant.Ask(ctx, *text, conversationID)
	if err != nil {
		r.logger.Error("router: assistant call failed", "error", err)
		if hideErr := r.signal.HideIndicator(ctx, conversationID); hideErr != nil {
			r.logger.Warn("router: hide indicator failed after assistant error", "error", hideErr)
		}
		return
	}

	if reply == "" {
		// Reply suppression: an empty reply sends nothing, per spec §8.
		if hideErr := r.signal.HideIndicator(ctx, conversationID); hideErr != nil {
			r.logger.Warn("router: hide indicator failed after empty reply", "error", hideErr)
		}
		return
	}

	// recipients carries the resolved group public id for group
	// conversations, otherwise the sender's identifier, per spec §4.4.
	if _, err := r.signal.SendMessage(ctx, reply, conversationID, env.Source, groupID); err != nil {
		r.logger.Error("router: send reply failed", "error", err)
	}
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// encodeMentions serializes a message's mentions into the opaque text
// blob stored alongside the archive record (spec's MessageRecord.mentions
// is unspecified beyond "opaque"; a JSON array preserves every field
// without committing the schema to mention structure).
func encodeMentions(mentions []signalmsg.Mention) *string {
	if len(mentions) == 0 {
		return nil
	}
	blob, err := json.Marshal(mentions)
	if err != nil {
		return nil
	}
	s := string(blob)
	return &s
}
