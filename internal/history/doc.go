// Package history keeps a short, expiring conversation log per contact.
// It exists for context recovery and the auto-approve-existing check,
// not as an archive: logs are capped, idle conversations expire, and a
// failed write costs a log line, never a dropped message.
package history
