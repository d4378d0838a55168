package autorebase

import (
	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/logfields"
)

// Event is a GitHub webhook event that was received for a repository.
type Event struct {
	DeliveryID string
	// Type is the webhook event type, e.g. "pull_request".
	Type string
	// Action is the action field of the payload, empty if the event type
	// has none.
	Action     string
	Repository Repository
	Sender     string
	// Payload is the parsed event, as returned by github.ParseWebHook().
	Payload any
	JSON    []byte
}

func (e *Event) LogFields() []zap.Field {
	return []zap.Field{
		logfields.DeliveryID(e.DeliveryID),
		logfields.WebhookType(e.Type),
		zap.String("github.event_action", e.Action),
		logfields.RepositoryOwner(e.Repository.Owner),
		logfields.Repository(e.Repository.Name),
		logfields.User(e.Sender),
	}
}

// RebaseOverride decides if pull requests rechecked because of the event
// are rebased even when they have conflicts with their base branch.
type RebaseOverride func(*Event) bool
