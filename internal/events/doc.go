// Package events provides in-memory pub/sub for gateway state changes.
//
// The pipeline publishes pause-state and pairing-state notifications on
// dedicated topics, and observability events (channel status, received
// messages, rate-limit trips) on the observe topic. Subscribers are
// decoupled collaborators such as a dashboard; a slow subscriber drops
// events rather than stalling the pipeline.
package events
