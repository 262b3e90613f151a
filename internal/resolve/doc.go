// Package resolve implements dynamic backend resolution for routes
// whose target is not statically configured.
//
// Resolution extracts the first product UUID embedded in the request
// path and asks the directory (the registrar service) for the product
// record; the record's address becomes the forwarding base URL. Paths
// without a UUID fail as not found without any directory call, as do
// lookups the directory cannot answer or records without an address.
//
// The registrar client forwards the caller's identity and correlation
// headers so lookups remain attributable end to end.
package resolve
