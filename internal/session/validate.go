package session

import (
	"fmt"
	"regexp"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// maxSocketPath is the sun_path limit on macOS; Linux allows 108.
const maxSocketPath = 104

// ValidateName checks that name is usable as a session: a lowercase slug
// whose daemon socket path fits in a Unix socket address.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use 1-64 of a-z, 0-9, '_' or '-'", name)
	}
	if p := SocketPath(name); len(p) > maxSocketPath {
		return fmt.Errorf("session %q: socket path %s is %d bytes, over the %d byte limit; set CHATSYNC_HOME to a shorter directory", name, p, len(p), maxSocketPath)
	}
	return nil
}
