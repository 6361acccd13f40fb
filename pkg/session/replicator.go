package session

import (
	"context"

	"github.com/harun/collabedit/pkg/document"
	"github.com/harun/collabedit/pkg/presence"
)

// Replicator is the pub/sub channel a session replicates through, scoped to
// one room. Delivery is at-least-once with no ordering beyond the timestamps
// carried by the updates; subscribers may also receive their own updates.
type Replicator interface {
	BroadcastPresence(ctx context.Context, u presence.Update) error
	SubscribePresence(fn func(presence.Update)) (cancel func())
	SetDocument(ctx context.Context, u document.Update) error
	SubscribeDocument(fn func(document.Update)) (cancel func())
}
