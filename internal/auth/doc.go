// Package auth provides JWT generation and verification for the admin
// API, plus the HTTP middleware enforcing bearer authentication.
package auth
