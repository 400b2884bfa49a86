package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tomyan/browsercli/internal/chrome"
	"github.com/tomyan/browsercli/internal/fault"
)

// Cookies returns the cookies visible to the current page.
func (s *Session) Cookies(ctx context.Context) ([]chrome.Cookie, error) {
	var cookies []chrome.Cookie
	err := s.do(ctx, 0, func(ctx context.Context, p Page) error {
		var err error
		cookies, err = p.Cookies(ctx)
		return err
	})
	return cookies, err
}

// SetCookie stores a cookie, scoped to the current page unless it names a domain.
func (s *Session) SetCookie(ctx context.Context, cookie chrome.Cookie) error {
	if cookie.Name == "" {
		return fault.New(fault.InvalidArgument, "cookie name must not be empty")
	}
	return s.do(ctx, 0, func(ctx context.Context, p Page) error {
		return p.SetCookie(ctx, cookie)
	})
}

// ClearCookies deletes every cookie of the browser.
func (s *Session) ClearCookies(ctx context.Context) error {
	return s.do(ctx, 0, func(ctx context.Context, p Page) error {
		return p.ClearCookies(ctx)
	})
}

// Storage returns the page's local or session storage entries.
func (s *Session) Storage(ctx context.Context, area string) (map[string]string, error) {
	if area != chrome.LocalStorage && area != chrome.SessionStorage {
		return nil, fault.New(fault.InvalidArgument, "storage area must be %s or %s, got %q", chrome.LocalStorage, chrome.SessionStorage, area)
	}
	var entries map[string]string
	err := s.do(ctx, 0, func(ctx context.Context, p Page) error {
		var err error
		entries, err = p.WebStorage(ctx, area)
		return err
	})
	return entries, err
}

// MaxTicks bounds the samples a single ticker takes.
const MaxTicks = 1000

// Tick is one sample taken by Ticker. State is omitted when it matches the
// previous sample.
type Tick struct {
	At      time.Time `json:"at"`
	Changed bool      `json:"changed"`
	State   any       `json:"state,omitempty"`
}

// TickerLog is what a ticker saw, the baseline sample first.
type TickerLog struct {
	Target   string        `json:"target"`
	Interval time.Duration `json:"interval"`
	Ticks    []Tick        `json:"ticks"`
}

// Changes counts the samples that differed from the one before.
func (l TickerLog) Changes() int {
	n := 0
	for _, t := range l.Ticks {
		if t.Changed {
			n++
		}
	}
	return n
}

func (l TickerLog) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "watched %s %d times every %s: %d changes", l.Target, len(l.Ticks), l.Interval, l.Changes())
	for i, t := range l.Ticks {
		label := "unchanged"
		switch {
		case i == 0:
			label = "baseline"
		case t.Changed:
			label = "changed"
		}
		sb.WriteString("\n" + t.At.Format("15:04:05") + " " + label)
		if t.State != nil {
			state, _ := json.Marshal(t.State)
			sb.WriteString(" " + string(state))
		}
	}
	return sb.String()
}

const pageStateScript = `({
	url: location.href,
	title: document.title,
	inputs: document.querySelectorAll('input, textarea, select').length,
	buttons: document.querySelectorAll('button, input[type="submit"], input[type="button"]').length,
	forms: document.forms.length
})`

func selectorStateScript(selector string) string {
	return fmt.Sprintf(`(() => {
	const els = Array.from(document.querySelectorAll(%s));
	return {selector: %[1]s, count: els.length, text: els.map(el => (el.innerText || '').trim()).join(' | ')};
})()`, jsString(selector))
}

// Ticker samples the page, or the elements matching selector, samples times
// at the given interval and reports each change. The session stays busy
// until the last sample; cancelling ctx or closing the session stops it.
func (s *Session) Ticker(ctx context.Context, selector string, interval time.Duration, samples int) (TickerLog, error) {
	if interval <= 0 {
		return TickerLog{}, fault.New(fault.InvalidArgument, "interval must be positive, got %s", interval)
	}
	if samples < 1 || samples > MaxTicks {
		return TickerLog{}, fault.New(fault.InvalidArgument, "samples must be between 1 and %d, got %d", MaxTicks, samples)
	}

	tl := TickerLog{Target: "page", Interval: interval}
	script := pageStateScript
	if selector != "" {
		tl.Target = fmt.Sprintf("%q", selector)
		script = selectorStateScript(selector)
	}

	err := s.do(ctx, 0, func(ctx context.Context, p Page) error {
		timer := time.NewTimer(0)
		defer timer.Stop()

		var last string
		for i := 0; i < samples; i++ {
			select {
			case <-ctx.Done():
				return fault.Wrap(ctx.Err(), fault.Interrupted, "ticker stopped after %d samples", i)
			case <-timer.C:
			}

			state, err := p.Evaluate(ctx, script)
			if err != nil {
				return err
			}
			raw, err := json.Marshal(state)
			if err != nil {
				return fault.Wrap(err, fault.Internal, "encoding page state")
			}

			tick := Tick{At: s.now(), State: state}
			if i > 0 {
				tick.Changed = string(raw) != last
				if !tick.Changed {
					tick.State = nil
				}
			}
			last = string(raw)
			tl.Ticks = append(tl.Ticks, tick)
			timer.Reset(interval)
		}
		return nil
	})
	return tl, err
}
