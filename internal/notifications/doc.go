// Package notifications posts job outcome alerts to ntfy.
//
// When no topic is configured NewService returns a no-op, so the workflow can
// call it unconditionally. Delivery is best effort: callers log failures and
// never change a job's status because of them.
package notifications
