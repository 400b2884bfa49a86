// Package testutil provides an in-memory browser for tests that drive a
// session without launching Chrome.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	neturl "net/url"
	"regexp"
	"sync"
	"time"

	"github.com/tomyan/browsercli/internal/chrome"
	"github.com/tomyan/browsercli/internal/fault"
	"github.com/tomyan/browsercli/internal/session"
)

// PNGHeader starts every screenshot the fake browser takes.
const PNGHeader = "\x89PNG\r\n\x1a\n"

// Document is what the fake browser serves for one URL.
type Document struct {
	Title string
	// Elements maps the selectors present on the page to their text.
	Elements map[string]string
	// LocalStorage and SessionStorage are the page's web storage entries.
	LocalStorage   map[string]string
	SessionStorage map[string]string
}

// Browser is a session.Backend whose pages are Documents. Navigating to a
// URL missing from Sites fails with NavigationFailed.
type Browser struct {
	Sites map[string]Document
	// Eval answers scripts other than location.href and document.title.
	Eval func(url, script string) (any, error)

	mu       sync.Mutex
	starts   int
	dataDirs []string
	events   []string
	proc     *Process
	cookies  []chrome.Cookie
}

// NewBrowser returns a browser serving sites.
func NewBrowser(sites map[string]Document) *Browser {
	return &Browser{Sites: sites}
}

// Start implements session.Backend.
func (b *Browser) Start(ctx context.Context, _ session.Config, dataDir string) (session.Process, session.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fault.Wrap(err, fault.Interrupted, "launching browser")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	b.dataDirs = append(b.dataDirs, dataDir)
	b.proc = &Process{pid: 1000 + b.starts, done: make(chan struct{})}
	b.events = append(b.events, "start")
	return b.proc, &Tab{browser: b, url: "about:blank"}, nil
}

// Starts returns how many browsers were launched.
func (b *Browser) Starts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts
}

// DataDirs returns the data directories handed to each launch.
func (b *Browser) DataDirs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.dataDirs...)
}

// Events returns everything the browser was asked to do, in order.
func (b *Browser) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

// Cookies returns the cookies set in the browser.
func (b *Browser) Cookies() []chrome.Cookie {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]chrome.Cookie{}, b.cookies...)
}

// Crash makes the running browser process exit.
func (b *Browser) Crash() {
	b.mu.Lock()
	p := b.proc
	b.mu.Unlock()
	if p != nil {
		p.exit()
	}
}

func (b *Browser) record(format string, args ...any) {
	b.mu.Lock()
	b.events = append(b.events, fmt.Sprintf(format, args...))
	b.mu.Unlock()
}

// Process is the fake browser's process.
type Process struct {
	pid  int
	done chan struct{}
	once sync.Once
}

func (p *Process) PID() int              { return p.pid }
func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) Stop(time.Duration) error {
	p.exit()
	return nil
}

func (p *Process) exit() {
	p.once.Do(func() { close(p.done) })
}

// Tab is the fake browser's page.
type Tab struct {
	browser *Browser

	mu      sync.Mutex
	url     string
	history []string
	forward []string
}

func (t *Tab) current() (string, Document) {
	t.mu.Lock()
	url := t.url
	t.mu.Unlock()

	t.browser.mu.Lock()
	defer t.browser.mu.Unlock()
	return url, t.browser.Sites[url]
}

func (t *Tab) Navigate(ctx context.Context, url string, _ bool) error {
	if err := ctx.Err(); err != nil {
		return fault.Wrap(err, fault.Interrupted, "Page.navigate")
	}
	t.browser.record("navigate %s", url)

	t.browser.mu.Lock()
	_, ok := t.browser.Sites[url]
	t.browser.mu.Unlock()
	if !ok && url != "about:blank" {
		return fault.New(fault.NavigationFailed, "navigating to %s: net::ERR_NAME_NOT_RESOLVED", url)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, t.url)
	t.forward = nil
	t.url = url
	return nil
}

func (t *Tab) Reload(context.Context) error {
	t.browser.record("reload")
	return nil
}

func (t *Tab) Back(context.Context) error {
	t.browser.record("back")
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) == 0 {
		return fault.New(fault.NavigationFailed, "no previous page in history")
	}
	t.forward = append(t.forward, t.url)
	t.url, t.history = t.history[len(t.history)-1], t.history[:len(t.history)-1]
	return nil
}

func (t *Tab) Forward(context.Context) error {
	t.browser.record("forward")
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.forward) == 0 {
		return fault.New(fault.NavigationFailed, "no next page in history")
	}
	t.history = append(t.history, t.url)
	t.url, t.forward = t.forward[len(t.forward)-1], t.forward[:len(t.forward)-1]
	return nil
}

func (t *Tab) Find(_ context.Context, selector string) (chrome.Element, error) {
	_, doc := t.current()
	if _, ok := doc.Elements[selector]; !ok {
		return chrome.Element{}, fault.New(fault.ElementNotFound, "no element matches %q", selector)
	}
	return chrome.Element{Selector: selector, NodeID: 1, Tag: "div"}, nil
}

func (t *Tab) Click(ctx context.Context, selector string) error {
	if _, err := t.Find(ctx, selector); err != nil {
		return err
	}
	t.browser.record("click %s", selector)
	return nil
}

func (t *Tab) TypeText(ctx context.Context, selector, text string) error {
	if _, err := t.Find(ctx, selector); err != nil {
		return err
	}
	t.browser.record("type %s %q", selector, text)
	return nil
}

func (t *Tab) PressKey(_ context.Context, key string) error {
	t.browser.record("key %s", key)
	return nil
}

func (t *Tab) Highlight(ctx context.Context, selector string) error {
	if _, err := t.Find(ctx, selector); err != nil {
		return err
	}
	t.browser.record("highlight %s", selector)
	return nil
}

func (t *Tab) ClickAt(_ context.Context, x, y float64) error {
	t.browser.record("click-at %g,%g", x, y)
	return nil
}

func (t *Tab) DoubleClickAt(_ context.Context, x, y float64) error {
	t.browser.record("double-click-at %g,%g", x, y)
	return nil
}

func (t *Tab) RightClickAt(_ context.Context, x, y float64) error {
	t.browser.record("right-click-at %g,%g", x, y)
	return nil
}

// innerText matches scripts reading the text of the first element matching
// a JSON-quoted selector.
var innerText = regexp.MustCompile(`document\.querySelector\(("(?:[^"\\]|\\.)*")\).*\.innerText`)

func (t *Tab) Evaluate(_ context.Context, script string) (any, error) {
	url, doc := t.current()
	switch script {
	case `location.href`:
		return url, nil
	case `document.title`:
		return doc.Title, nil
	case `document.readyState`:
		return "complete", nil
	}
	if m := innerText.FindStringSubmatch(script); m != nil {
		var selector string
		if err := json.Unmarshal([]byte(m[1]), &selector); err != nil {
			return nil, fault.Wrap(err, fault.ScriptError, "SyntaxError")
		}
		if text, ok := doc.Elements[selector]; ok {
			return text, nil
		}
		return nil, nil
	}
	if t.browser.Eval != nil {
		return t.browser.Eval(url, script)
	}
	return nil, nil
}

func (t *Tab) Screenshot(_ context.Context, fullPage bool) ([]byte, error) {
	url, _ := t.current()
	t.browser.record("screenshot %s", url)
	return []byte(PNGHeader + url), nil
}

func (t *Tab) Scroll(_ context.Context, direction string, amount float64) error {
	t.browser.record("scroll %s %g", direction, amount)
	return nil
}

func (t *Tab) Cookies(context.Context) ([]chrome.Cookie, error) {
	return t.browser.Cookies(), nil
}

func (t *Tab) SetCookie(_ context.Context, cookie chrome.Cookie) error {
	if cookie.Domain == "" {
		url, _ := t.current()
		u, err := neturl.Parse(url)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fault.New(fault.InvalidArgument, "cookie %q needs a domain while the page is at %s", cookie.Name, url)
		}
		cookie.Domain = u.Hostname()
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	t.browser.record("set-cookie %s=%s", cookie.Name, cookie.Value)

	t.browser.mu.Lock()
	defer t.browser.mu.Unlock()
	for i, c := range t.browser.cookies {
		if c.Name == cookie.Name && c.Domain == cookie.Domain && c.Path == cookie.Path {
			t.browser.cookies[i] = cookie
			return nil
		}
	}
	t.browser.cookies = append(t.browser.cookies, cookie)
	return nil
}

func (t *Tab) ClearCookies(context.Context) error {
	t.browser.record("clear-cookies")
	t.browser.mu.Lock()
	defer t.browser.mu.Unlock()
	t.browser.cookies = nil
	return nil
}

func (t *Tab) WebStorage(_ context.Context, area string) (map[string]string, error) {
	_, doc := t.current()
	src := doc.LocalStorage
	switch area {
	case chrome.LocalStorage:
	case chrome.SessionStorage:
		src = doc.SessionStorage
	default:
		return nil, fault.New(fault.InvalidArgument, "storage area must be local or session, got %q", area)
	}
	entries := make(map[string]string, len(src))
	for k, v := range src {
		entries[k] = v
	}
	return entries, nil
}

func (t *Tab) Close() error {
	t.browser.record("close page")
	return nil
}
