package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tomyan/browsercli/internal/fault"
)

// searchInputs are tried in order by Search.
var searchInputs = []string{
	`input[type="search"]`,
	`input[placeholder*="search" i]`,
	`input[name*="search" i]`,
	`input[id*="search" i]`,
	`.search input`,
	`#search input`,
	`input[name="q"]`,
}

const (
	defaultWaitTimeout = 10 * time.Second
	defaultNavWait     = 30 * time.Second
)

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// URL returns the current page's address.
func (s *Session) URL(ctx context.Context) (string, error) {
	var url string
	err := s.do(ctx, 0, func(ctx context.Context, p Page) error {
		var err error
		url, err = evalString(ctx, p, `location.href`)
		return err
	})
	return url, err
}

// Title returns the current document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	err := s.do(ctx, 0, func(ctx context.Context, p Page) error {
		var err error
		title, err = evalString(ctx, p, `document.title`)
		return err
	})
	return title, err
}

// Text returns the rendered text of the element matching selector. With no
// selector it returns the page title and URL.
func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := s.do(ctx, 0, func(ctx context.Context, p Page) error {
		if selector == "" {
			title, err := evalString(ctx, p, `document.title`)
			if err != nil {
				return err
			}
			url, err := evalString(ctx, p, `location.href`)
			if err != nil {
				return err
			}
			text = fmt.Sprintf("Title: %s\nURL: %s", title, url)
			return nil
		}

		v, err := p.Evaluate(ctx, fmt.Sprintf(
			`(() => { const el = document.querySelector(%s); return el ? el.innerText : null })()`,
			jsString(selector)))
		if err != nil {
			return err
		}
		if v == nil {
			return fault.New(fault.ElementNotFound, "no element matches %q", selector)
		}
		text = fmt.Sprint(v)
		return nil
	})
	return text, err
}

// Search types query into the page's search box and submits it with Enter.
// It returns the selector of the box it used.
func (s *Session) Search(ctx context.Context, query string) (string, error) {
	var used string
	err := s.do(ctx, 0, func(ctx context.Context, p Page) error {
		for _, sel := range searchInputs {
			if _, err := p.Find(ctx, sel); err != nil {
				if fault.Is(err, fault.ElementNotFound) {
					continue
				}
				return err
			}
			if err := p.TypeText(ctx, sel, query); err != nil {
				return err
			}
			used = sel
			return p.PressKey(ctx, "Enter")
		}
		return fault.New(fault.ElementNotFound, "no search input found on page")
	})
	return used, err
}

// WaitFor waits until an element matches selector.
func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	return s.do(ctx, 0, func(ctx context.Context, p Page) error {
		return s.poll(ctx, timeout, defaultWaitTimeout, fmt.Sprintf("selector %q", selector), func(ctx context.Context) (bool, error) {
			_, err := p.Find(ctx, selector)
			if fault.Is(err, fault.ElementNotFound) {
				return false, nil
			}
			return err == nil, err
		})
	})
}

// WaitForText waits until the page's body text contains text.
func (s *Session) WaitForText(ctx context.Context, text string, timeout time.Duration) error {
	script := fmt.Sprintf(`!!document.body && document.body.innerText.includes(%s)`, jsString(text))
	return s.do(ctx, 0, func(ctx context.Context, p Page) error {
		return s.poll(ctx, timeout, defaultWaitTimeout, fmt.Sprintf("text %q", text), func(ctx context.Context) (bool, error) {
			v, err := p.Evaluate(ctx, script)
			return v == true, err
		})
	})
}

// WaitForNavigation waits until the document has finished loading.
func (s *Session) WaitForNavigation(ctx context.Context, timeout time.Duration) error {
	return s.do(ctx, 0, func(ctx context.Context, p Page) error {
		return s.poll(ctx, timeout, defaultNavWait, "navigation", func(ctx context.Context) (bool, error) {
			state, err := evalString(ctx, p, `document.readyState`)
			return state == "complete", err
		})
	})
}

// poll calls check every poll interval until it reports true, fails, or
// timeout passes.
func (s *Session) poll(ctx context.Context, timeout, fallback time.Duration, what string, check func(context.Context) (bool, error)) error {
	if timeout <= 0 {
		timeout = fallback
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := check(ctx)
		if ok {
			return nil
		}
		if err != nil && ctx.Err() == nil {
			return err
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return fault.New(fault.CommandTimeout, "timed out after %s waiting for %s", timeout, what)
			}
			return fault.Wrap(ctx.Err(), fault.Interrupted, "waiting for %s", what)
		case <-ticker.C:
		}
	}
}

// Fill sets the value of a form field and fires the events frameworks listen for.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(() => {
	const el = document.querySelector(%[1]s);
	if (!el) return null;
	el.focus();
	el.value = %[2]s;
	for (const type of ['input', 'change']) el.dispatchEvent(new Event(type, {bubbles: true}));
	el.blur();
	return el.value === %[2]s;
})()`, jsString(selector), jsString(value))

	return s.do(ctx, 0, func(ctx context.Context, p Page) error {
		v, err := p.Evaluate(ctx, script)
		if err != nil {
			return err
		}
		switch v {
		case nil:
			return fault.New(fault.ElementNotFound, "no element matches %q", selector)
		case true:
			return nil
		}
		return fault.New(fault.ElementNotInteractable, "%q did not accept the value", selector)
	})
}

// Submit submits the form matching selector, or the first form on the page.
func (s *Session) Submit(ctx context.Context, selector string) error {
	if selector == "" {
		selector = "form"
	}
	script := fmt.Sprintf(`(() => {
	const form = document.querySelector(%s);
	if (!form) return false;
	if (form.requestSubmit) form.requestSubmit(); else form.submit();
	return true;
})()`, jsString(selector))

	return s.do(ctx, 0, func(ctx context.Context, p Page) error {
		v, err := p.Evaluate(ctx, script)
		if err != nil {
			return err
		}
		if v != true {
			return fault.New(fault.ElementNotFound, "no form matches %q", selector)
		}
		return nil
	})
}

const elementsScript = `({
	inputs: Array.from(document.querySelectorAll('input:not([type="hidden"]), select, textarea'))
		.filter(el => el.offsetParent !== null)
		.map(el => ({type: el.type || el.tagName.toLowerCase(), id: el.id, name: el.name, placeholder: el.placeholder}))
		.slice(0, 10),
	buttons: Array.from(document.querySelectorAll('button, input[type="submit"], input[type="button"]'))
		.filter(el => el.offsetParent !== null)
		.map(el => ({text: (el.textContent || el.value || '').trim().substring(0, 30), id: el.id}))
		.slice(0, 8),
	links: Array.from(document.querySelectorAll('a[href]'))
		.filter(el => el.offsetParent !== null && el.textContent.trim())
		.map(el => ({text: el.textContent.trim().substring(0, 30), href: el.href.substring(0, 50)}))
		.slice(0, 8),
})`

// Elements lists the visible inputs, buttons and links on the page.
func (s *Session) Elements(ctx context.Context) (any, error) {
	return s.Evaluate(ctx, elementsScript)
}

// PageSummary is a one-line description of the current page.
type PageSummary struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Inputs  int    `json:"inputs"`
	Buttons int    `json:"buttons"`
	Links   int    `json:"links"`
}

func (ps PageSummary) String() string {
	title := []rune(ps.Title)
	if len(title) > 40 {
		title = title[:40]
	}
	url := strings.TrimPrefix(strings.TrimPrefix(ps.URL, "https://"), "http://")

	line := string(title) + " | " + url
	if ps.Inputs > 0 || ps.Buttons > 0 || ps.Links > 0 {
		line += fmt.Sprintf(" | i:%d b:%d l:%d", ps.Inputs, ps.Buttons, ps.Links)
	}
	return line
}

const summaryScript = `({
	title: document.title,
	url: location.href,
	inputs: document.querySelectorAll('input:not([type="hidden"]), textarea, select').length,
	buttons: document.querySelectorAll('button, input[type="submit"], input[type="button"]').length,
	links: document.querySelectorAll('a[href]').length,
})`

// Summary describes the current page.
func (s *Session) Summary(ctx context.Context) (PageSummary, error) {
	var ps PageSummary
	err := s.do(ctx, 0, func(ctx context.Context, p Page) error {
		v, err := p.Evaluate(ctx, summaryScript)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding page summary: %w", err)
		}
		return json.Unmarshal(raw, &ps)
	})
	return ps, err
}

// Status is a snapshot of the session.
type Status struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Alive     bool      `json:"alive"`
	PID       int       `json:"pid,omitempty"`
	DataDir   string    `json:"dataDir,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	URL       string    `json:"url,omitempty"`
}

// Status reports on the session without launching a browser.
func (s *Session) Status(ctx context.Context) Status {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	usable := s.usableLocked() == nil
	st := Status{
		ID:        s.id,
		State:     s.state.String(),
		CreatedAt: s.created,
	}
	page := s.page
	if s.proc != nil {
		st.PID = s.proc.PID()
		st.DataDir = s.dataDir
	}
	s.mu.Unlock()

	if page == nil || !usable {
		return st
	}
	st.Alive = true

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if url, err := evalString(ctx, page, `location.href`); err == nil {
		st.URL = url
	} else {
		s.observe(err)
	}
	return st
}
