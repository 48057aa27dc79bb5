// Package notify implements the staff notification channel: it pushes new
// orders and redemption codes to every on-duty staff chat, keeps those
// messages in step with the authoritative order state by editing them in
// place, and turns button presses and chat commands back into service calls.
//
// The channel holds no business state of its own. Delivery is best-effort;
// transport failures are logged and counted, never surfaced to the request
// that caused them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrTransportFailure wraps every error returned by a Transport.
var ErrTransportFailure = errors.New("staff transport failure")

// MessageRef identifies a delivered message within its session.
type MessageRef struct {
	SessionID string
	MessageID string
}

// String encodes the ref as "<session>:<message>" for storage.
func (r MessageRef) String() string { return r.SessionID + ":" + r.MessageID }

// ParseMessageRef decodes a ref produced by MessageRef.String.
func ParseMessageRef(s string) (MessageRef, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return MessageRef{}, fmt.Errorf("malformed message ref %q", s)
	}
	return MessageRef{SessionID: s[:i], MessageID: s[i+1:]}, nil
}

// Action is a button attached to a message. Token is handed back verbatim
// to HandleCallback when the button is pressed.
type Action struct {
	Label string
	Token string
}

// Transport sends and edits chat messages.
type Transport interface {
	Send(ctx context.Context, sessionID, text string, actions []Action) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string, actions []Action) error
}

// Reply is the answer to a text command.
type Reply struct {
	Text    string
	Actions []Action
}
