// Package staging allocates per-message workspaces and reclaims the ones a
// crashed worker left behind.
package staging
