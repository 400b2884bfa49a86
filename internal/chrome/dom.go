package chrome

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/tomyan/browsercli/internal/fault"
)

// querySelector returns the node ID of the first element matching selector
// in document order.
func (p *Page) querySelector(ctx context.Context, selector string) (int64, error) {
	doc, err := p.call(ctx, "DOM.getDocument", map[string]any{"depth": 0})
	if err != nil {
		return 0, fmt.Errorf("getting document: %w", err)
	}

	res, err := p.call(ctx, "DOM.querySelector", map[string]any{
		"nodeId":   doc.Get("root.nodeId").Int(),
		"selector": selector,
	})
	if err != nil {
		return 0, fmt.Errorf("querying selector: %w", err)
	}

	nodeID := res.Get("nodeId").Int()
	if nodeID == 0 {
		return 0, fault.New(fault.ElementNotFound, "no element matches %q", selector)
	}
	return nodeID, nil
}

// Exists reports whether any element matches selector.
func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	_, err := p.querySelector(ctx, selector)
	if fault.Is(err, fault.ElementNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Find resolves selector against the current document. The box is nil when
// the element is not rendered.
func (p *Page) Find(ctx context.Context, selector string) (Element, error) {
	nodeID, err := p.querySelector(ctx, selector)
	if err != nil {
		return Element{}, err
	}

	el := Element{Selector: selector, NodeID: nodeID}

	desc, err := p.call(ctx, "DOM.describeNode", map[string]any{"nodeId": nodeID})
	if err != nil {
		return Element{}, fmt.Errorf("describing node: %w", err)
	}
	el.Tag = strings.ToLower(desc.Get("node.nodeName").String())

	if box, ok := p.contentBox(ctx, nodeID); ok {
		el.Box = &box
	}
	return el, nil
}

// contentBox returns the bounding box of the node's first non-empty content
// quad in viewport coordinates.
func (p *Page) contentBox(ctx context.Context, nodeID int64) (Box, bool) {
	res, err := p.call(ctx, "DOM.getContentQuads", map[string]any{"nodeId": nodeID})
	if err != nil {
		return Box{}, false
	}

	for _, q := range res.Get("quads").Array() {
		pts := q.Array()
		if len(pts) < 8 {
			continue
		}
		var xs, ys [4]float64
		for i := 0; i < 4; i++ {
			xs[i] = pts[2*i].Float()
			ys[i] = pts[2*i+1].Float()
		}
		minX, maxX := minMax(xs)
		minY, maxY := minMax(ys)
		if maxX-minX <= 0 || maxY-minY <= 0 {
			continue
		}
		return Box{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}, true
	}
	return Box{}, false
}

func minMax(v [4]float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, f := range v {
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}
	return lo, hi
}

// interactablePoint scrolls the element into view and returns the center of
// its box. It fails if the element has no area or its center is outside
// the viewport.
func (p *Page) interactablePoint(ctx context.Context, selector string) (nodeID int64, x, y float64, err error) {
	nodeID, err = p.querySelector(ctx, selector)
	if err != nil {
		return 0, 0, 0, err
	}

	if _, err := p.call(ctx, "DOM.scrollIntoViewIfNeeded", map[string]any{"nodeId": nodeID}); err != nil {
		if fault.Is(err, fault.CommandRejected) {
			return 0, 0, 0, fault.Wrap(err, fault.ElementNotInteractable, "%q is not rendered", selector)
		}
		return 0, 0, 0, err
	}

	box, ok := p.contentBox(ctx, nodeID)
	if !ok {
		return 0, 0, 0, fault.New(fault.ElementNotInteractable, "%q has zero area", selector)
	}

	vp, err := p.Viewport(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	x, y = box.Center()
	if x < 0 || y < 0 || x > vp.Width || y > vp.Height {
		return 0, 0, 0, fault.New(fault.ElementNotInteractable,
			"%q is outside the viewport (%.0f,%.0f not within %.0fx%.0f)", selector, x, y, vp.Width, vp.Height)
	}
	return nodeID, x, y, nil
}

// Highlight draws the inspector overlay over the first element matching selector.
func (p *Page) Highlight(ctx context.Context, selector string) error {
	nodeID, err := p.querySelector(ctx, selector)
	if err != nil {
		return err
	}

	if _, err := p.call(ctx, "Overlay.enable", nil); err != nil {
		return fmt.Errorf("enabling Overlay: %w", err)
	}
	_, err = p.call(ctx, "Overlay.highlightNode", map[string]any{
		"nodeId": nodeID,
		"highlightConfig": map[string]any{
			"showInfo":     true,
			"contentColor": map[string]any{"r": 111, "g": 168, "b": 220, "a": 0.66},
			"paddingColor": map[string]any{"r": 147, "g": 196, "b": 125, "a": 0.55},
			"borderColor":  map[string]any{"r": 255, "g": 0, "b": 0, "a": 1},
			"marginColor":  map[string]any{"r": 246, "g": 178, "b": 107, "a": 0.66},
		},
	})
	if err != nil {
		return fmt.Errorf("highlighting node: %w", err)
	}
	return nil
}
