// Package client provides the `coursestatus` command-line client.
//
// The commands talk to a node's HTTP gateway and admin endpoints. The base
// URL is supplied by the embedding application through a BaseURLFunc; the
// standalone binary uses --addr or COURSESTATUS_ADDR and defaults to
// http://127.0.0.1:8080.
//
// Usage
//
//	coursestatus enqueue --data '{"course_id":"CS101","status":"published"}'
//	coursestatus enqueue --file update.json --dedup-id upd-42 --group CS101
//
//	coursestatus stats
//
//	coursestatus dlq list --limit 20
//	coursestatus dlq redrive --limit 20
//
// Notes
//
//   - enqueue prints the gateway status. A 200 means the update was
//     admitted or recognized as a duplicate; processing happens later.
//   - dlq list decodes JSON payloads into payload_json for readability.
package client
