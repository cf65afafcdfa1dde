package api

import (
	"context"
	"net/http"
	"time"
)

// Realtime side-call paths.
const (
	ConnectivityPath = "/realtime/connectivityTracking"
	TimestampPath    = "/realtime/timestamp"
)

// SendHeartbeat posts one connectivity tracking entry, retrying 5xx responses.
func (c *Client) SendHeartbeat(ctx context.Context, hb ConnectivityHeartbeat) error {
	_, err := c.doWithRetry(ctx, http.MethodPost, ConnectivityPath, "", []ConnectivityHeartbeat{hb})
	return err
}

// ServerTime fetches the server's current time in a single attempt.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var resp timestampResponse
	if err := c.getOnce(ctx, TimestampPath, "", &resp); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(resp.Timestamp), nil
}
