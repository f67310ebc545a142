// Package ratelimit enforces the per-contact message allowance.
//
// Counting is a fixed window backed by the store's atomic increment, so
// concurrent messages from the same contact never race the window reset.
// The limiter fails open: if the store is unreachable the message is
// allowed and the error is logged, because rate accounting is protection
// for the agent, not a delivery guarantee.
package ratelimit
