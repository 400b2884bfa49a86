package session

import (
	"context"
	"time"

	"github.com/tomyan/browsercli/internal/chrome"
)

// Page is the tab a Session drives.
type Page interface {
	Navigate(ctx context.Context, url string, waitForLoad bool) error
	Reload(ctx context.Context) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error

	Find(ctx context.Context, selector string) (chrome.Element, error)
	Click(ctx context.Context, selector string) error
	TypeText(ctx context.Context, selector, text string) error
	PressKey(ctx context.Context, key string) error
	Highlight(ctx context.Context, selector string) error

	ClickAt(ctx context.Context, x, y float64) error
	DoubleClickAt(ctx context.Context, x, y float64) error
	RightClickAt(ctx context.Context, x, y float64) error

	Evaluate(ctx context.Context, script string) (any, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Scroll(ctx context.Context, direction string, amount float64) error

	Cookies(ctx context.Context) ([]chrome.Cookie, error)
	SetCookie(ctx context.Context, cookie chrome.Cookie) error
	ClearCookies(ctx context.Context) error
	WebStorage(ctx context.Context, area string) (map[string]string, error)

	Close() error
}

// Process is the browser process behind a Page.
type Process interface {
	PID() int
	Done() <-chan struct{}
	Stop(grace time.Duration) error
}

// Backend brings up a browser whose profile lives in dataDir. On error it
// must have released everything it started; dataDir itself belongs to the
// caller.
type Backend interface {
	Start(ctx context.Context, cfg Config, dataDir string) (Process, Page, error)
}

var _ Page = (*chrome.Page)(nil)
