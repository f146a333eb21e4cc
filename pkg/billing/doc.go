// Package billing implements the payment flows: creating payment
// intents and checkout sessions, confirming payments, and processing
// gateway webhook events into lifetime access grants.
//
// Grants are idempotent on the payment intent id and atomic: the
// subscription record, the payment history record, and the user
// profile update are committed in a single batch, so a crash between
// them can never leave a partial grant behind.
package billing
