package resolve

import "regexp"

// uuidPattern matches a UUID in 8-4-4-4-12 hex form, case
// insensitively, anywhere in a path.
var uuidPattern = regexp.MustCompile(
	`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// ExtractUUID returns the first UUID substring found in the path. A
// path may contain several UUIDs; the first one identifies the product
// and is the one used for discovery. The UUID is returned exactly as
// it appears in the path.
func ExtractUUID(path string) (string, bool) {
	match := uuidPattern.FindString(path)
	if match == "" {
		return "", false
	}
	return match, true
}
