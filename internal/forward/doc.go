// Package forward reissues inbound requests against resolved backend
// URLs and relays the responses.
//
// Each request gets a single attempt bounded by a timeout covering
// connect and read. Successful (2xx) and redirect (3xx) responses are
// relayed to the caller with status, headers, and body unchanged apart
// from hop-by-hop headers. Backend responses of 400 and above are not
// relayed; they surface as a backend status error that carries the
// backend's code so the caller sees an annotated failure rather than
// raw backend output.
//
// Transport failures map onto a fixed taxonomy: connect and read
// timeouts are gateway timeouts (504), refused or unreachable
// connections and mid-stream network failures mean the backend is
// unavailable (503), and any other transport-level failure is a bad
// gateway (502). Unclassifiable errors stay internal (500).
package forward
