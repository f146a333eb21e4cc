// Package api exposes the HTTP surface: entitlement checks, payment
// flows, booking, and the payment gateway webhook. All business
// endpoints are POST JSON-in/JSON-out behind bearer-token auth; the
// webhook endpoint authenticates by payload signature instead.
package api
