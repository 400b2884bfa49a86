package chrome

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tomyan/browsercli/internal/fault"
)

// Page is one tab driven over a flattened target session. A Page owns its
// Client: closing the page closes the connection.
type Page struct {
	client    *Client
	targetID  string
	sessionID string
}

// NewPage opens a blank tab, attaches to it and sizes its viewport.
// Non-positive dimensions leave the window's own viewport in place.
func (c *Client) NewPage(ctx context.Context, width, height int) (*Page, error) {
	result, err := c.Call(ctx, "Target.createTarget", map[string]any{"url": "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("creating target: %w", err)
	}
	targetID := gjson.GetBytes(result, "targetId").String()

	result, err = c.Call(ctx, "Target.attachToTarget", map[string]any{
		"targetId": targetID,
		"flatten":  true,
	})
	if err != nil {
		return nil, fmt.Errorf("attaching to target: %w", err)
	}

	p := &Page{
		client:    c,
		targetID:  targetID,
		sessionID: gjson.GetBytes(result, "sessionId").String(),
	}

	for _, domain := range []string{"Page", "Runtime", "DOM"} {
		if _, err := p.call(ctx, domain+".enable", nil); err != nil {
			return nil, fmt.Errorf("enabling %s domain: %w", domain, err)
		}
	}

	if width > 0 && height > 0 {
		if err := p.SetViewport(ctx, width, height); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// TargetID returns the protocol target identifier of the tab.
func (p *Page) TargetID() string {
	return p.targetID
}

func (p *Page) call(ctx context.Context, method string, params any) (gjson.Result, error) {
	raw, err := p.client.CallSession(ctx, p.sessionID, method, params)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(raw), nil
}

// Close closes the tab (best effort) and then the connection.
func (p *Page) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.client.Call(ctx, "Target.closeTarget", map[string]any{"targetId": p.targetID})
	return p.client.Close()
}

// Evaluate runs script in the page's global context and returns its value.
// Promises are awaited. A thrown exception becomes a ScriptError carrying the
// browser's own description of it.
func (p *Page) Evaluate(ctx context.Context, script string) (any, error) {
	res, err := p.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    script,
		"returnByValue": true,
		"awaitPromise":  true,
		"userGesture":   true,
	})
	if err != nil {
		return nil, err
	}

	if ex := res.Get("exceptionDetails"); ex.Exists() {
		text := ex.Get("exception.description").String()
		if text == "" {
			text = ex.Get("text").String()
		}
		return nil, fault.New(fault.ScriptError, "%s", text)
	}

	value := res.Get("result.value")
	if !value.Exists() {
		return nil, nil
	}
	return value.Value(), nil
}

// Screenshot captures the viewport, or the whole document when fullPage is set, as PNG.
func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	params := map[string]any{"format": "png"}
	if fullPage {
		metrics, err := p.call(ctx, "Page.getLayoutMetrics", nil)
		if err != nil {
			return nil, fmt.Errorf("getting layout metrics: %w", err)
		}
		size := metrics.Get("cssContentSize")
		if !size.Exists() {
			size = metrics.Get("contentSize")
		}
		params["captureBeyondViewport"] = true
		params["clip"] = map[string]any{
			"x":      0,
			"y":      0,
			"width":  size.Get("width").Float(),
			"height": size.Get("height").Float(),
			"scale":  1,
		}
	}

	res, err := p.call(ctx, "Page.captureScreenshot", params)
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(res.Get("data").String())
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot data: %w", err)
	}
	return data, nil
}

// Scroll scrolls the page. Up and down dispatch a wheel gesture at the
// viewport center; amount <= 0 means one viewport height. Top and bottom
// jump to the document edges.
func (p *Page) Scroll(ctx context.Context, direction string, amount float64) error {
	switch direction {
	case ScrollTop:
		_, err := p.Evaluate(ctx, `window.scrollTo(0, 0)`)
		return err
	case ScrollBottom:
		_, err := p.Evaluate(ctx, `window.scrollTo(0, document.documentElement.scrollHeight)`)
		return err
	case ScrollUp, ScrollDown:
	default:
		return fault.New(fault.InvalidArgument, "unknown scroll direction %q", direction)
	}

	vp, err := p.Viewport(ctx)
	if err != nil {
		return err
	}
	if amount <= 0 {
		amount = vp.Height
	}
	if direction == ScrollUp {
		amount = -amount
	}

	_, err = p.call(ctx, "Input.dispatchMouseEvent", map[string]any{
		"type":   "mouseWheel",
		"x":      vp.Width / 2,
		"y":      vp.Height / 2,
		"deltaX": 0,
		"deltaY": amount,
	})
	if err != nil {
		return fmt.Errorf("dispatching mouseWheel: %w", err)
	}
	return nil
}

// Viewport returns the size of the visible layout viewport.
func (p *Page) Viewport(ctx context.Context) (Viewport, error) {
	metrics, err := p.call(ctx, "Page.getLayoutMetrics", nil)
	if err != nil {
		return Viewport{}, fmt.Errorf("getting layout metrics: %w", err)
	}
	vp := metrics.Get("cssLayoutViewport")
	if !vp.Exists() {
		vp = metrics.Get("layoutViewport")
	}
	return Viewport{
		Width:  vp.Get("clientWidth").Float(),
		Height: vp.Get("clientHeight").Float(),
	}, nil
}

// SetViewport overrides the page's device metrics.
func (p *Page) SetViewport(ctx context.Context, width, height int) error {
	_, err := p.call(ctx, "Emulation.setDeviceMetricsOverride", map[string]any{
		"width":             width,
		"height":            height,
		"deviceScaleFactor": 1,
		"mobile":            false,
	})
	if err != nil {
		return fmt.Errorf("setting viewport: %w", err)
	}
	return nil
}
