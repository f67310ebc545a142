// Package pairing gates unknown contacts behind explicit operator
// approval. A contact is in exactly one of three states: pending,
// approved, or denied. Approvals are permanent until revoked; denials
// expire after a cooldown so a contact can ask again later. The atomic
// tri-state check lives in the store; this package layers policy
// (auto-approve for pre-existing conversations, auto-reply text) and
// publishes state changes for the dashboard.
package pairing
