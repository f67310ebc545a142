// Package linking groups channel-specific contact identities by E.164
// phone number so an operator approves a person once, not once per
// network. The store keeps a forward map (phone to entries) and a
// reverse index (contact id to phone); the linker validates phone shape
// and implements the self-excluding approval inheritance check.
package linking
