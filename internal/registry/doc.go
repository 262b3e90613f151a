// Package registry provides the etcd-backed service registry.
//
// Records are JSON documents stored under slash-separated keys. The
// package supports exact lookups, string-prefix scans, and wildcard
// queries where each key segment is matched with path.Match semantics
// and the segment counts must agree.
//
// Connect dials etcd with a bounded number of fixed-interval retries
// and verifies the endpoint responds before handing the registry out.
// Services use
// Announce and Withdraw to publish and remove their own presence
// records under the /proxy/ prefix.
package registry
