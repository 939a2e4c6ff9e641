// Package storage persists stage artifacts and resolves source locations.
//
// A Provider owns one container: a directory under the storage root for the
// local backend, or a bucket for the object-store backend. Locations returned
// by Provider.Store are handed to the next stage as its source location and
// resolved by Fetcher, which also understands file paths, file:// URLs and
// http(s) URLs submitted by clients.
package storage
