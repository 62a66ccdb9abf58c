package changeevent

import "time"

// PushClient is a per-connection record for the WebSocket-style push
// service: which policy ids (or "*") the client subscribes to, and
// heartbeat bookkeeping for the watchdog.
type PushClient struct {
	ClientID        string
	ConnectedAt     time.Time
	LastHeartbeat   time.Time
	Subscriptions   []string
}

// SubscribesTo reports whether the client should receive an event
// about policyID, honoring the "*" wildcard subscription.
func (c PushClient) SubscribesTo(policyID string) bool {
	for _, s := range c.Subscriptions {
		if s == "*" || s == policyID {
			return true
		}
	}
	return false
}

// PushMessage is what the push service delivers to matching
// subscribers on a change event.
type PushMessage struct {
	Type     string `json:"type"`
	PolicyID string `json:"policyId"`
	Event    Event  `json:"event"`
}
