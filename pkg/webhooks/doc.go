// Package webhooks delivers internal events to registered HTTP
// endpoints. Payloads are signed with a per-endpoint HMAC secret so
// receivers can verify origin, and failed deliveries are retried with
// exponential backoff.
//
// The manager plugs into the event bus as a subscriber: register it
// for the event types an endpoint cares about and every matching event
// is fanned out to the subscribed endpoints.
package webhooks
