// Package realtime is the consumer-facing push client. A Client owns one stream
// and every component attached to it; nothing is shared between Clients.
//
// Typical use:
//
//	c := realtime.New(cfg, apiClient, nil, logger)
//	defer c.Dispose(ctx)
//	inbox := subscription.NewInbox()
//	c.Subscribe(ctx, inbox, []string{"conversation:42"})
//	ev, err := inbox.Next(ctx)
package realtime
