package tunnel

import (
	"regexp"
	"strings"
)

const forwardingMarker = "forwarding"

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

type forwardState int

const (
	forwardWaiting forwardState = iota
	forwardFound
	forwardFailed
)

// forwardScanner watches SSH stdout for the line announcing the public URL.
type forwardScanner struct {
	state forwardState
	url   string
}

// Feed inspects one line. It reports the URL the first time a forwarding
// line carrying one is seen; later lines are ignored.
func (s *forwardScanner) Feed(line string) (string, bool) {
	if s.state != forwardWaiting {
		return "", false
	}
	u, ok := ParseForwardingLine(line)
	if !ok {
		return "", false
	}
	s.state = forwardFound
	s.url = u
	return u, true
}

// Fail records that the stream ended without a URL. It has no effect once a
// URL was found.
func (s *forwardScanner) Fail() {
	if s.state == forwardWaiting {
		s.state = forwardFailed
	}
}

// ParseForwardingLine returns the first URL on a line that mentions
// forwarding, case-insensitively.
func ParseForwardingLine(line string) (string, bool) {
	if !strings.Contains(strings.ToLower(line), forwardingMarker) {
		return "", false
	}
	u := urlPattern.FindString(line)
	return u, u != ""
}
