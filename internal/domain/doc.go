// Package domain contains the core types shared across eventship components:
// event metadata, queue entries, and the sentinel errors returned by the
// public API.
//
// Event payloads are opaque serialized strings. The only structure this
// package knows about is the small metadata subset read for filtering
// (event type, pipeline job name, pipeline branch).
package domain
