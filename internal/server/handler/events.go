package handler

import "context"

// EventDispatcher fans ledger events out to interested parties. The webhook
// service satisfies this; handlers treat it as optional.
type EventDispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]string)
}
