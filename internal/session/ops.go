package session

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/tomyan/browsercli/internal/chrome"
	"github.com/tomyan/browsercli/internal/fault"
	"github.com/tomyan/browsercli/internal/storage"
)

// Navigate loads url, adding https:// when it has no scheme. It returns once
// the main document commits, or after the load event when waitForLoad is set.
func (s *Session) Navigate(ctx context.Context, url string, waitForLoad bool) error {
	if strings.TrimSpace(url) == "" {
		return fault.New(fault.InvalidArgument, "empty URL")
	}
	url = NormalizeURL(url)
	return s.navigation(ctx, func(ctx context.Context, p Page) error {
		return p.Navigate(ctx, url, waitForLoad)
	})
}

// Reload reloads the current document.
func (s *Session) Reload(ctx context.Context) error {
	return s.navigation(ctx, func(ctx context.Context, p Page) error { return p.Reload(ctx) })
}

// Back goes back one history entry.
func (s *Session) Back(ctx context.Context) error {
	return s.navigation(ctx, func(ctx context.Context, p Page) error { return p.Back(ctx) })
}

// Forward goes forward one history entry.
func (s *Session) Forward(ctx context.Context) error {
	return s.navigation(ctx, func(ctx context.Context, p Page) error { return p.Forward(ctx) })
}

func (s *Session) navigation(ctx context.Context, fn func(context.Context, Page) error) error {
	return s.do(ctx, s.cfg.NavTimeout, func(ctx context.Context, p Page) error {
		s.transition(Ready, Navigating)
		defer s.transition(Navigating, Ready)
		return fn(ctx, p)
	})
}

// Find resolves selector to the first matching element.
func (s *Session) Find(ctx context.Context, selector string) (chrome.Element, error) {
	var el chrome.Element
	err := s.do(ctx, 0, func(ctx context.Context, p Page) error {
		var err error
		el, err = p.Find(ctx, selector)
		return err
	})
	return el, err
}

// Click clicks the center of the first element matching selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	return s.do(ctx, 0, func(ctx context.Context, p Page) error { return p.Click(ctx, selector) })
}

// TypeText focuses the element matching selector and types text into it.
func (s *Session) TypeText(ctx context.Context, selector, text string) error {
	return s.do(ctx, 0, func(ctx context.Context, p Page) error { return p.TypeText(ctx, selector, text) })
}

// ClickAt clicks at viewport coordinates.
func (s *Session) ClickAt(ctx context.Context, x, y float64) error {
	return s.do(ctx, 0, func(ctx context.Context, p Page) error { return p.ClickAt(ctx, x, y) })
}

// DoubleClickAt double-clicks at viewport coordinates.
func (s *Session) DoubleClickAt(ctx context.Context, x, y float64) error {
	return s.do(ctx, 0, func(ctx context.Context, p Page) error { return p.DoubleClickAt(ctx, x, y) })
}

// RightClickAt right-clicks at viewport coordinates.
func (s *Session) RightClickAt(ctx context.Context, x, y float64) error {
	return s.do(ctx, 0, func(ctx context.Context, p Page) error { return p.RightClickAt(ctx, x, y) })
}

// Evaluate runs script in the page and returns its value.
func (s *Session) Evaluate(ctx context.Context, script string) (any, error) {
	var v any
	err := s.do(ctx, 0, func(ctx context.Context, p Page) error {
		var err error
		v, err = p.Evaluate(ctx, script)
		return err
	})
	return v, err
}

// Scroll scrolls the page; amount <= 0 means one viewport.
func (s *Session) Scroll(ctx context.Context, direction string, amount float64) error {
	return s.do(ctx, 0, func(ctx context.Context, p Page) error { return p.Scroll(ctx, direction, amount) })
}

// Screenshot captures the page as PNG.
func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var data []byte
	err := s.do(ctx, 0, func(ctx context.Context, p Page) error {
		var err error
		data, err = p.Screenshot(ctx, fullPage || s.cfg.FullPage)
		return err
	})
	return data, err
}

// Capture describes a screenshot written to disk.
type Capture struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// SaveScreenshot captures the page and writes it. Without a name the file is
// named after the current page and the time.
func (s *Session) SaveScreenshot(ctx context.Context, name string, fullPage bool) (Capture, error) {
	var c Capture
	err := s.do(ctx, 0, func(ctx context.Context, p Page) error {
		data, err := p.Screenshot(ctx, fullPage || s.cfg.FullPage)
		if err != nil {
			return err
		}

		var pageURL string
		if name == "" {
			if pageURL, err = evalString(ctx, p, `location.href`); err != nil {
				return err
			}
		}
		path := storage.ScreenshotPath(s.cfg.ScreenshotDir, name, pageURL, s.now())

		if err := s.persister.Persist(ctx, path, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("writing screenshot: %w", err)
		}
		c = Capture{Path: path, Bytes: len(data)}
		return nil
	})
	return c, err
}

// Highlight outlines the element matching selector in the page.
func (s *Session) Highlight(ctx context.Context, selector string) error {
	return s.do(ctx, 0, func(ctx context.Context, p Page) error { return p.Highlight(ctx, selector) })
}

func evalString(ctx context.Context, p Page, script string) (string, error) {
	v, err := p.Evaluate(ctx, script)
	if err != nil {
		return "", err
	}
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return fmt.Sprint(v), nil
	}
}
