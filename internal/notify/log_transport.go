package notify

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// LogTransport writes messages to the log instead of a chat service. It is
// used when no bot token is configured, so the rest of the channel (copies,
// edits, duty) still runs end to end.
type LogTransport struct{}

// Send implements Transport.
func (LogTransport) Send(ctx context.Context, sessionID, text string, actions []Action) (MessageRef, error) {
	ref := MessageRef{SessionID: sessionID, MessageID: uuid.NewString()}
	logger(ctx).Info().
		Str("session_id", sessionID).
		Str("message_id", ref.MessageID).
		Str("text", strings.ReplaceAll(text, "\n", " | ")).
		Strs("actions", tokens(actions)).
		Msg("staff message sent")
	return ref, nil
}

// Edit implements Transport.
func (LogTransport) Edit(ctx context.Context, ref MessageRef, text string, actions []Action) error {
	logger(ctx).Info().
		Str("session_id", ref.SessionID).
		Str("message_id", ref.MessageID).
		Str("text", strings.ReplaceAll(text, "\n", " | ")).
		Strs("actions", tokens(actions)).
		Msg("staff message edited")
	return nil
}

func tokens(actions []Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Token)
	}
	return out
}
