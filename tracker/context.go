package tracker

import (
	"context"

	"clicktrail/api/models"
)

// ClientContext is the per-request browser context merged into every event.
type ClientContext struct {
	TabID  string
	UserID string
	IP     string
	Client models.ClientInfo
}

type clientKey struct{}

// WithClient attaches cc to ctx.
func WithClient(ctx context.Context, cc ClientContext) context.Context {
	return context.WithValue(ctx, clientKey{}, cc)
}

// ClientFrom returns the ClientContext carried by ctx.
func ClientFrom(ctx context.Context) (ClientContext, bool) {
	cc, ok := ctx.Value(clientKey{}).(ClientContext)
	return cc, ok
}
