// Package archive implements delivery event retention: a Janitor drains
// terminal delivery events past the retention window in batches, writing
// each batch to S3-compatible object storage as an NDJSON object before
// deleting it. Archive objects are keyed by run date under deliveries/
// and carry their SHA-256 as object metadata.
package archive
