package chrome

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/tomyan/browsercli/internal/fault"
)

// Navigate loads url in the page. It returns once the main frame has
// committed the new document, or after the load event when waitForLoad is
// set. Same-document navigations return immediately.
func (p *Page) Navigate(ctx context.Context, url string, waitForLoad bool) error {
	event := "Page.frameNavigated"
	if waitForLoad {
		event = "Page.loadEventFired"
	}

	// Subscribe before navigating so the event cannot be missed.
	events := p.client.subscribe(p.sessionID, event)
	defer p.client.unsubscribe(p.sessionID, event, events)

	res, err := p.call(ctx, "Page.navigate", map[string]any{"url": url})
	if err != nil {
		if fault.Is(err, fault.CommandRejected) {
			return fault.Wrap(err, fault.NavigationFailed, "%s", url)
		}
		return err
	}
	if text := res.Get("errorText").String(); text != "" {
		return fault.New(fault.NavigationFailed, "%s: %s", url, text)
	}
	if res.Get("loaderId").String() == "" {
		return nil
	}
	frameID := res.Get("frameId").String()

	for {
		select {
		case params := <-events:
			if !waitForLoad {
				frame := gjson.GetBytes(params, "frame")
				if frame.Get("id").String() != frameID || frame.Get("parentId").Exists() {
					continue
				}
			}
			return nil
		case <-p.client.Done():
			return errClosed(event)
		case <-ctx.Done():
			return contextError(ctx, "waiting for "+url)
		}
	}
}

// Reload reloads the current document and waits for it to commit.
func (p *Page) Reload(ctx context.Context) error {
	events := p.client.subscribe(p.sessionID, "Page.frameNavigated")
	defer p.client.unsubscribe(p.sessionID, "Page.frameNavigated", events)

	if _, err := p.call(ctx, "Page.reload", nil); err != nil {
		return fmt.Errorf("reloading: %w", err)
	}
	for {
		select {
		case params := <-events:
			if !gjson.GetBytes(params, "frame.parentId").Exists() {
				return nil
			}
		case <-p.client.Done():
			return errClosed("Page.reload")
		case <-ctx.Done():
			return contextError(ctx, "waiting for reload")
		}
	}
}

// Back goes one entry back in the page's history.
func (p *Page) Back(ctx context.Context) error {
	return p.history(ctx, -1)
}

// Forward goes one entry forward in the page's history.
func (p *Page) Forward(ctx context.Context) error {
	return p.history(ctx, 1)
}

func (p *Page) history(ctx context.Context, delta int) error {
	hist, err := p.call(ctx, "Page.getNavigationHistory", nil)
	if err != nil {
		return fmt.Errorf("getting navigation history: %w", err)
	}

	entries := hist.Get("entries").Array()
	idx := int(hist.Get("currentIndex").Int()) + delta
	if idx < 0 || idx >= len(entries) {
		if delta < 0 {
			return fault.New(fault.NavigationFailed, "no history to go back to")
		}
		return fault.New(fault.NavigationFailed, "no history to go forward to")
	}

	_, err = p.call(ctx, "Page.navigateToHistoryEntry", map[string]any{
		"entryId": entries[idx].Get("id").Int(),
	})
	if err != nil {
		return fmt.Errorf("navigating to history entry: %w", err)
	}
	return nil
}
