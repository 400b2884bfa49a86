package session

import (
	"strings"
	"time"

	"github.com/tomyan/browsercli/internal/storage"
)

// Config holds the knobs a Session is created with.
type Config struct {
	ChromePath string
	ChromeArgs []string
	Port       int // fixed debugging port; 0 lets the browser choose
	Headless   bool
	Width      int
	Height     int

	CallTimeout   time.Duration // ceiling on a single protocol call
	LaunchTimeout time.Duration // ceiling on the browser becoming reachable
	NavTimeout    time.Duration // ceiling on a navigation committing
	Grace         time.Duration // time the browser gets to exit before it is killed

	FullPage      bool // screenshots capture the whole document by default
	ScreenshotDir string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Headless:      true,
		Width:         1280,
		Height:        800,
		CallTimeout:   10 * time.Second,
		LaunchTimeout: 30 * time.Second,
		NavTimeout:    30 * time.Second,
		Grace:         3 * time.Second,
		ScreenshotDir: storage.DefaultScreenshotDir,
	}
}

// NormalizeURL adds https:// to a URL given without a scheme.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, prefix := range []string{"http://", "https://", "about:", "data:", "file:", "chrome:", "javascript:"} {
		if len(raw) >= len(prefix) && strings.EqualFold(raw[:len(prefix)], prefix) {
			return raw
		}
	}
	return "https://" + raw
}
