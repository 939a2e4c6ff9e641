// Package layer holds the job data model shared by every pipeline component:
// the Status lifecycle (Processing, then Failed or Complete) and the Message
// payload passed from one stage queue to the next.
package layer
