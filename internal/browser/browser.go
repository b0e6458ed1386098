// Package browser opens URLs in the developer's default browser.
package browser

import (
	"io"

	"github.com/pkg/browser"
)

func init() {
	// xdg-open and friends chatter on stdout; keep the CLI output clean.
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
}

// Open launches the system browser at rawURL.
func Open(rawURL string) error {
	return browser.OpenURL(rawURL)
}
