// Package gateway contains the message pipeline and process assembly.
//
// The Processor is the single admission path for inbound messages:
// linking, the pairing gate, history, pause and rate checks, and finally
// the downstream queue. The Router wires channel adapters to the
// processor and owns the one outbound send path. Gateway glues the
// store, services, channels and admin API into a runnable process.
package gateway
