// Package entitlement answers "can user U use feature F right now?".
//
// The resolver composes four signals: the feature's static requirement
// (free vs. paid, minimum tier), the user's subscription record, a
// time-boxed grace-period override, and a rolling usage counter against
// the plan's quota. Checks short-circuit in a strict order; the first
// matching branch produces the Decision.
//
// Two lookups deliberately fail open: unknown tier names compare
// permissively, and a failed usage-count query is treated as unlimited.
// Availability wins over strictness for the feature gate.
package entitlement
