// Package messaging defines the chat transport seam.
//
// The coach talks to users exclusively through the Service interface, so a
// platform transport (WhatsApp, Telegram, SMS) can be plugged in without
// touching the rest of the system. The package ships a console transport
// for local, single-user operation.
package messaging

import (
	"context"

	"github.com/BTreeMap/FunnelCoach/internal/models"
)

// Service is the transport contract: validate recipients, send messages,
// and surface inbound user responses on a channel.
type Service interface {
	// ValidateAndCanonicalizeRecipient checks a recipient identifier and
	// returns its canonical form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)
	// SendMessage delivers a text message to a recipient.
	SendMessage(ctx context.Context, to, message string) error
	// Start begins receiving inbound messages. It returns once the
	// transport is running.
	Start(ctx context.Context) error
	// Stop shuts the transport down and closes the responses channel.
	Stop() error
	// Responses returns the channel of inbound user messages.
	Responses() <-chan models.Response
}
