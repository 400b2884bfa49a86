package chrome

import (
	"context"
	"fmt"
)

var keyCodeMap = map[string]int{
	"Enter":      13,
	"Tab":        9,
	"Escape":     27,
	"Backspace":  8,
	"Delete":     46,
	"ArrowUp":    38,
	"ArrowDown":  40,
	"ArrowLeft":  37,
	"ArrowRight": 39,
	"Home":       36,
	"End":        35,
	"PageUp":     33,
	"PageDown":   34,
	"Space":      32,
}

// keyText is the character a key inserts, where it inserts one.
var keyText = map[string]string{
	"Enter": "\r",
	"Tab":   "\t",
	"Space": " ",
}

// Click clicks the center of the first element matching selector.
func (p *Page) Click(ctx context.Context, selector string) error {
	_, x, y, err := p.interactablePoint(ctx, selector)
	if err != nil {
		return err
	}
	return p.gesture(ctx, x, y, "left", 1)
}

// ClickAt clicks at viewport coordinates.
func (p *Page) ClickAt(ctx context.Context, x, y float64) error {
	return p.gesture(ctx, x, y, "left", 1)
}

// DoubleClickAt double-clicks at viewport coordinates.
func (p *Page) DoubleClickAt(ctx context.Context, x, y float64) error {
	return p.gesture(ctx, x, y, "left", 2)
}

// RightClickAt right-clicks at viewport coordinates.
func (p *Page) RightClickAt(ctx context.Context, x, y float64) error {
	return p.gesture(ctx, x, y, "right", 1)
}

// gesture moves the pointer to (x, y) once, then emits a press/release pair
// per click with click counts 1..clicks at the same point.
func (p *Page) gesture(ctx context.Context, x, y float64, button string, clicks int) error {
	if err := p.mouse(ctx, "mouseMoved", x, y, "none", 0); err != nil {
		return err
	}
	for n := 1; n <= clicks; n++ {
		if err := p.mouse(ctx, "mousePressed", x, y, button, n); err != nil {
			return err
		}
		if err := p.mouse(ctx, "mouseReleased", x, y, button, n); err != nil {
			return err
		}
	}
	return nil
}

func (p *Page) mouse(ctx context.Context, typ string, x, y float64, button string, clickCount int) error {
	params := map[string]any{
		"type":   typ,
		"x":      x,
		"y":      y,
		"button": button,
	}
	if clickCount > 0 {
		params["clickCount"] = clickCount
	}
	if _, err := p.call(ctx, "Input.dispatchMouseEvent", params); err != nil {
		if clickCount > 0 {
			return fmt.Errorf("dispatching %s (%d): %w", typ, clickCount, err)
		}
		return fmt.Errorf("dispatching %s: %w", typ, err)
	}
	return nil
}

// TypeText clicks the element matching selector to focus it and inserts text.
func (p *Page) TypeText(ctx context.Context, selector, text string) error {
	nodeID, x, y, err := p.interactablePoint(ctx, selector)
	if err != nil {
		return err
	}
	if err := p.gesture(ctx, x, y, "left", 1); err != nil {
		return err
	}
	if _, err := p.call(ctx, "DOM.focus", map[string]any{"nodeId": nodeID}); err != nil {
		return fmt.Errorf("focusing %q: %w", selector, err)
	}
	if _, err := p.call(ctx, "Input.insertText", map[string]any{"text": text}); err != nil {
		return fmt.Errorf("inserting text: %w", err)
	}
	return nil
}

// PressKey presses and releases a named key such as Enter or ArrowDown.
func (p *Page) PressKey(ctx context.Context, key string) error {
	down := map[string]any{
		"type": "keyDown",
		"key":  key,
		"code": key,
	}
	if code, ok := keyCodeMap[key]; ok {
		down["windowsVirtualKeyCode"] = code
		down["nativeVirtualKeyCode"] = code
	}
	if text, ok := keyText[key]; ok {
		down["text"] = text
	}
	if _, err := p.call(ctx, "Input.dispatchKeyEvent", down); err != nil {
		return fmt.Errorf("keyDown for %q: %w", key, err)
	}

	up := map[string]any{"type": "keyUp", "key": key, "code": key}
	if code, ok := keyCodeMap[key]; ok {
		up["windowsVirtualKeyCode"] = code
		up["nativeVirtualKeyCode"] = code
	}
	if _, err := p.call(ctx, "Input.dispatchKeyEvent", up); err != nil {
		return fmt.Errorf("keyUp for %q: %w", key, err)
	}
	return nil
}
