package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/tomyan/browsercli/internal/chrome"
	"github.com/tomyan/browsercli/internal/fault"
)

// fakePage is an in-memory page. Elements present are listed in elements;
// everything else is reported missing.
type fakePage struct {
	mu       sync.Mutex
	url      string
	title    string
	elements map[string]bool
	calls    []string
	closed   int
	cookies  []chrome.Cookie
	storage  map[string]map[string]string

	// eval answers scripts not handled by default.
	eval func(script string) (any, error)
	// fail, when set, is returned by every input and navigation call.
	fail error
	// block makes Navigate wait until its context ends.
	block bool

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakePage() *fakePage {
	return &fakePage{url: "about:blank", elements: map[string]bool{}}
}

func (p *fakePage) enter(call string) func() {
	if n := p.active.Add(1); n > p.maxActive.Load() {
		p.maxActive.Store(n)
	}
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
	time.Sleep(time.Millisecond)
	return func() { p.active.Add(-1) }
}

func (p *fakePage) recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePage) Navigate(ctx context.Context, url string, _ bool) error {
	defer p.enter("navigate " + url)()
	if p.block {
		<-ctx.Done()
		return fault.Wrap(ctx.Err(), fault.Interrupted, "Page.navigate")
	}
	if p.fail != nil {
		return p.fail
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Reload(context.Context) error  { defer p.enter("reload")(); return p.fail }
func (p *fakePage) Back(context.Context) error    { defer p.enter("back")(); return p.fail }
func (p *fakePage) Forward(context.Context) error { defer p.enter("forward")(); return p.fail }

func (p *fakePage) Find(_ context.Context, selector string) (chrome.Element, error) {
	defer p.enter("find " + selector)()
	if p.fail != nil {
		return chrome.Element{}, p.fail
	}
	p.mu.Lock()
	ok := p.elements[selector]
	p.mu.Unlock()
	if !ok {
		return chrome.Element{}, fault.New(fault.ElementNotFound, "no element matches %q", selector)
	}
	return chrome.Element{Selector: selector, NodeID: 1, Tag: "div"}, nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	if _, err := p.Find(ctx, selector); err != nil {
		return err
	}
	defer p.enter("click " + selector)()
	return nil
}

func (p *fakePage) TypeText(ctx context.Context, selector, text string) error {
	if _, err := p.Find(ctx, selector); err != nil {
		return err
	}
	defer p.enter(fmt.Sprintf("type %s %s", selector, text))()
	return nil
}

func (p *fakePage) PressKey(_ context.Context, key string) error {
	defer p.enter("key " + key)()
	return p.fail
}

func (p *fakePage) Highlight(ctx context.Context, selector string) error {
	if _, err := p.Find(ctx, selector); err != nil {
		return err
	}
	defer p.enter("highlight " + selector)()
	return nil
}

func (p *fakePage) ClickAt(_ context.Context, x, y float64) error {
	defer p.enter(fmt.Sprintf("click-at %g %g", x, y))()
	return p.fail
}

func (p *fakePage) DoubleClickAt(_ context.Context, x, y float64) error {
	defer p.enter(fmt.Sprintf("double-click-at %g %g", x, y))()
	return p.fail
}

func (p *fakePage) RightClickAt(_ context.Context, x, y float64) error {
	defer p.enter(fmt.Sprintf("right-click-at %g %g", x, y))()
	return p.fail
}

func (p *fakePage) Evaluate(_ context.Context, script string) (any, error) {
	defer p.enter("eval")()
	if p.fail != nil {
		return nil, p.fail
	}
	switch script {
	case `location.href`:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.url, nil
	case `document.title`:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.title, nil
	}
	if p.eval != nil {
		return p.eval(script)
	}
	return nil, nil
}

func (p *fakePage) Screenshot(context.Context, bool) ([]byte, error) {
	defer p.enter("screenshot")()
	if p.fail != nil {
		return nil, p.fail
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return []byte("png:" + p.url), nil
}

func (p *fakePage) Scroll(_ context.Context, direction string, amount float64) error {
	defer p.enter(fmt.Sprintf("scroll %s %g", direction, amount))()
	return p.fail
}

func (p *fakePage) Cookies(context.Context) ([]chrome.Cookie, error) {
	defer p.enter("cookies")()
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chrome.Cookie{}, p.cookies...), p.fail
}

func (p *fakePage) SetCookie(_ context.Context, cookie chrome.Cookie) error {
	defer p.enter("set-cookie " + cookie.Name)()
	if p.fail != nil {
		return p.fail
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, cookie)
	return nil
}

func (p *fakePage) ClearCookies(context.Context) error {
	defer p.enter("clear-cookies")()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = nil
	return p.fail
}

func (p *fakePage) WebStorage(_ context.Context, area string) (map[string]string, error) {
	defer p.enter("storage " + area)()
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := map[string]string{}
	for k, v := range p.storage[area] {
		entries[k] = v
	}
	return entries, p.fail
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

type fakeProcess struct {
	done     chan struct{}
	doneOnce sync.Once

	mu     sync.Mutex
	stops  int
	graces []time.Duration
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) PID() int              { return 4242 }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) exit() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *fakeProcess) Stop(grace time.Duration) error {
	p.mu.Lock()
	p.stops++
	p.graces = append(p.graces, grace)
	p.mu.Unlock()
	p.exit()
	return nil
}

func (p *fakeProcess) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

// fakeBackend hands out one page and process per start.
type fakeBackend struct {
	mu       sync.Mutex
	starts   int
	dataDirs []string
	page     *fakePage
	proc     *fakeProcess
	err      error
	// block makes Start wait until its context ends.
	block   bool
	started chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{page: newFakePage(), proc: newFakeProcess(), started: make(chan struct{}, 10)}
}

func (b *fakeBackend) Start(ctx context.Context, _ Config, dataDir string) (Process, Page, error) {
	b.mu.Lock()
	b.starts++
	b.dataDirs = append(b.dataDirs, dataDir)
	err, block := b.err, b.block
	b.mu.Unlock()
	b.started <- struct{}{}

	if block {
		<-ctx.Done()
		return nil, nil, fault.Wrap(ctx.Err(), fault.Interrupted, "launching chrome")
	}
	if err != nil {
		return nil, nil, err
	}
	return b.proc, b.page, nil
}

func (b *fakeBackend) startCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts
}

// countingFs counts RemoveAll calls.
type countingFs struct {
	afero.Fs
	mu      sync.Mutex
	removed []string
}

func (fs *countingFs) RemoveAll(path string) error {
	fs.mu.Lock()
	fs.removed = append(fs.removed, path)
	fs.mu.Unlock()
	return fs.Fs.RemoveAll(path)
}

func (fs *countingFs) removals() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.removed...)
}
