package port

import "context"

// EventPublisher pushes settlement events onto the message bus. Publishing
// happens strictly after the settlement transaction commits.
type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}
