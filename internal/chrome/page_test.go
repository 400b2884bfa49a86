package chrome

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/tomyan/browsercli/internal/fault"
)

// newTestPage dials f and opens a page on it. The endpoint reports a
// 1280x800 viewport and an element box at (10,20)-(110,70) for any node.
func newTestPage(t *testing.T, f *fakeEndpoint) *Page {
	t.Helper()

	f.reply("Target.createTarget", map[string]string{"targetId": "T1"})
	f.reply("Target.attachToTarget", map[string]string{"sessionId": "S1"})
	f.reply("Page.getLayoutMetrics", map[string]any{
		"cssLayoutViewport": map[string]any{"clientWidth": 1280, "clientHeight": 800},
		"cssContentSize":    map[string]any{"width": 1280, "height": 3000},
	})
	f.reply("DOM.getDocument", map[string]any{"root": map[string]any{"nodeId": 1}})
	f.reply("DOM.querySelector", map[string]any{"nodeId": 42})
	f.reply("DOM.describeNode", map[string]any{"node": map[string]any{"nodeName": "BUTTON"}})
	f.reply("DOM.getContentQuads", map[string]any{
		"quads": [][]float64{{10, 20, 110, 20, 110, 70, 10, 70}},
	})

	c := dialFake(t, f, Options{})
	p, err := c.NewPage(context.Background(), 1280, 800)
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	return p
}

type mouseEvent struct {
	Type       string
	X, Y       float64
	Button     string
	ClickCount int64
}

func mouseEvents(f *fakeEndpoint) []mouseEvent {
	var out []mouseEvent
	for _, c := range f.callsTo("Input.dispatchMouseEvent") {
		out = append(out, mouseEvent{
			Type:       c.Params.Get("type").String(),
			X:          c.Params.Get("x").Float(),
			Y:          c.Params.Get("y").Float(),
			Button:     c.Params.Get("button").String(),
			ClickCount: c.Params.Get("clickCount").Int(),
		})
	}
	return out
}

func TestNewPage_AttachesAndSizes(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)

	if p.TargetID() != "T1" {
		t.Errorf("target: got %q, want T1", p.TargetID())
	}
	attach := f.callsTo("Target.attachToTarget")
	if len(attach) != 1 || !attach[0].Params.Get("flatten").Bool() {
		t.Errorf("expected one flattened attach, got %+v", attach)
	}
	metrics := f.callsTo("Emulation.setDeviceMetricsOverride")
	if len(metrics) != 1 || metrics[0].SessionID != "S1" || metrics[0].Params.Get("width").Int() != 1280 {
		t.Errorf("viewport override not sent to session: %+v", metrics)
	}
}

func TestClickAt_EmitsMovePressRelease(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)

	if err := p.ClickAt(context.Background(), 640, 400); err != nil {
		t.Fatalf("ClickAt failed: %v", err)
	}

	got := mouseEvents(f)
	want := []mouseEvent{
		{Type: "mouseMoved", X: 640, Y: 400, Button: "none"},
		{Type: "mousePressed", X: 640, Y: 400, Button: "left", ClickCount: 1},
		{Type: "mouseReleased", X: 640, Y: 400, Button: "left", ClickCount: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDoubleClickAt_SingleMoveTwoPairs(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)

	if err := p.DoubleClickAt(context.Background(), 12.5, 99); err != nil {
		t.Fatalf("DoubleClickAt failed: %v", err)
	}

	got := mouseEvents(f)
	want := []mouseEvent{
		{Type: "mouseMoved", X: 12.5, Y: 99, Button: "none"},
		{Type: "mousePressed", X: 12.5, Y: 99, Button: "left", ClickCount: 1},
		{Type: "mouseReleased", X: 12.5, Y: 99, Button: "left", ClickCount: 1},
		{Type: "mousePressed", X: 12.5, Y: 99, Button: "left", ClickCount: 2},
		{Type: "mouseReleased", X: 12.5, Y: 99, Button: "left", ClickCount: 2},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRightClickAt_UsesRightButton(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)

	if err := p.RightClickAt(context.Background(), 1, 2); err != nil {
		t.Fatalf("RightClickAt failed: %v", err)
	}

	got := mouseEvents(f)
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	for _, ev := range got[1:] {
		if ev.Button != "right" || ev.ClickCount != 1 {
			t.Errorf("unexpected event %+v", ev)
		}
	}
}

func TestClick_UsesElementCenter(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)

	if err := p.Click(context.Background(), "button.go"); err != nil {
		t.Fatalf("Click failed: %v", err)
	}

	got := mouseEvents(f)
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[1].X != 60 || got[1].Y != 45 {
		t.Errorf("press at (%v,%v), want (60,45)", got[1].X, got[1].Y)
	}
	if n := len(f.callsTo("DOM.scrollIntoViewIfNeeded")); n != 1 {
		t.Errorf("expected scroll into view, got %d calls", n)
	}
}

func TestClick_ElementNotFound(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	f.reply("DOM.querySelector", map[string]any{"nodeId": 0})

	err := p.Click(context.Background(), "#missing")
	if !fault.Is(err, fault.ElementNotFound) {
		t.Fatalf("expected ElementNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "#missing") {
		t.Errorf("selector missing from message: %q", err.Error())
	}
	if n := len(mouseEvents(f)); n != 0 {
		t.Errorf("expected no mouse events, got %d", n)
	}
}

func TestExists(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)

	ok, err := p.Exists(context.Background(), "button")
	if err != nil || !ok {
		t.Fatalf("Exists(button) = %v, %v; want true", ok, err)
	}

	f.reply("DOM.querySelector", map[string]any{"nodeId": 0})
	ok, err = p.Exists(context.Background(), "#missing")
	if err != nil || ok {
		t.Fatalf("Exists(#missing) = %v, %v; want false, nil", ok, err)
	}
}

func TestClick_ZeroArea(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	f.reply("DOM.getContentQuads", map[string]any{
		"quads": [][]float64{{10, 20, 10, 20, 10, 20, 10, 20}},
	})

	err := p.Click(context.Background(), "#flat")
	if !fault.Is(err, fault.ElementNotInteractable) {
		t.Fatalf("expected ElementNotInteractable, got %v", err)
	}
}

func TestClick_OutsideViewport(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	f.reply("DOM.getContentQuads", map[string]any{
		"quads": [][]float64{{10, 5000, 110, 5000, 110, 5050, 10, 5050}},
	})

	err := p.Click(context.Background(), "#far")
	if !fault.Is(err, fault.ElementNotInteractable) {
		t.Fatalf("expected ElementNotInteractable, got %v", err)
	}
}

func TestTypeText_FocusesAndInserts(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)

	if err := p.TypeText(context.Background(), "input[name=q]", "hello world"); err != nil {
		t.Fatalf("TypeText failed: %v", err)
	}

	inserts := f.callsTo("Input.insertText")
	if len(inserts) != 1 || inserts[0].Params.Get("text").String() != "hello world" {
		t.Errorf("unexpected insertText calls: %+v", inserts)
	}
	if n := len(f.callsTo("DOM.focus")); n != 1 {
		t.Errorf("expected one focus, got %d", n)
	}
}

func TestFind_DescribesElement(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)

	el, err := p.Find(context.Background(), "button")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if el.NodeID != 42 || el.Tag != "button" {
		t.Errorf("unexpected element: %+v", el)
	}
	if el.Box == nil || el.Box.Width != 100 || el.Box.Height != 50 {
		t.Errorf("unexpected box: %+v", el.Box)
	}
}

func TestNavigate_WaitsForMainFrameCommit(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	f.handle("Page.navigate", func(recordedCall) (any, *ProtocolError, []event) {
		return map[string]string{"frameId": "F1", "loaderId": "L1"}, nil, []event{
			{Method: "Page.frameNavigated", Params: map[string]any{"frame": map[string]string{"id": "child", "parentId": "F1"}}},
			{Method: "Page.frameNavigated", Params: map[string]any{"frame": map[string]string{"id": "F1"}}},
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Navigate(ctx, "https://example.com", false); err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
}

func TestNavigate_WaitForLoad(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	f.handle("Page.navigate", func(recordedCall) (any, *ProtocolError, []event) {
		return map[string]string{"frameId": "F1", "loaderId": "L1"}, nil, []event{
			{Method: "Page.loadEventFired", Params: map[string]float64{"timestamp": 1}},
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Navigate(ctx, "https://example.com", true); err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
}

func TestNavigate_ErrorText(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	f.reply("Page.navigate", map[string]string{"frameId": "F1", "errorText": "net::ERR_NAME_NOT_RESOLVED"})

	err := p.Navigate(context.Background(), "https://nope.invalid", false)
	if !fault.Is(err, fault.NavigationFailed) {
		t.Fatalf("expected NavigationFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "net::ERR_NAME_NOT_RESOLVED") {
		t.Errorf("native error text lost: %q", err.Error())
	}
}

func TestNavigate_NoCommitTimesOut(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	f.reply("Page.navigate", map[string]string{"frameId": "F1", "loaderId": "L1"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := p.Navigate(ctx, "https://slow.example", false)
	if !fault.Is(err, fault.CommandTimeout) {
		t.Fatalf("expected CommandTimeout, got %v", err)
	}
}

func TestBack_NoHistory(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	f.reply("Page.getNavigationHistory", map[string]any{
		"currentIndex": 0,
		"entries":      []map[string]any{{"id": 1, "url": "about:blank"}},
	})

	if err := p.Back(context.Background()); !fault.Is(err, fault.NavigationFailed) {
		t.Fatalf("expected NavigationFailed, got %v", err)
	}
}

func TestEvaluate_ReturnsValue(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	f.reply("Runtime.evaluate", map[string]any{"result": map[string]any{"type": "number", "value": 2}})

	v, err := p.Evaluate(context.Background(), "1 + 1")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if v != float64(2) {
		t.Errorf("got %v (%T), want 2", v, v)
	}
}

func TestEvaluate_Undefined(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	f.reply("Runtime.evaluate", map[string]any{"result": map[string]any{"type": "undefined"}})

	v, err := p.Evaluate(context.Background(), "void 0")
	if err != nil || v != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", v, err)
	}
}

func TestEvaluate_ExceptionIsVerbatim(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	const native = "ReferenceError: foo is not defined\n    at <anonymous>:1:1"
	f.reply("Runtime.evaluate", map[string]any{
		"result": map[string]any{"type": "object", "subtype": "error"},
		"exceptionDetails": map[string]any{
			"text":      "Uncaught",
			"exception": map[string]any{"description": native},
		},
	})

	_, err := p.Evaluate(context.Background(), "foo")
	if !fault.Is(err, fault.ScriptError) {
		t.Fatalf("expected ScriptError, got %v", err)
	}
	if fault.Detail(err) != native {
		t.Errorf("got %q, want %q", fault.Detail(err), native)
	}
}

func TestScreenshot_DecodesPNG(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	payload := []byte("\x89PNG fake")
	f.reply("Page.captureScreenshot", map[string]string{"data": base64.StdEncoding.EncodeToString(payload)})

	data, err := p.Screenshot(context.Background(), false)
	if err != nil {
		t.Fatalf("Screenshot failed: %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("got %q, want %q", data, payload)
	}
	if f.callsTo("Page.captureScreenshot")[0].Params.Get("clip").Exists() {
		t.Error("viewport capture should not clip")
	}
}

func TestScreenshot_FullPageClipsToContent(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	f.reply("Page.captureScreenshot", map[string]string{"data": ""})

	if _, err := p.Screenshot(context.Background(), true); err != nil {
		t.Fatalf("Screenshot failed: %v", err)
	}
	params := f.callsTo("Page.captureScreenshot")[0].Params
	if !params.Get("captureBeyondViewport").Bool() || params.Get("clip.height").Float() != 3000 {
		t.Errorf("unexpected full-page params: %s", params.Raw)
	}
}

func TestScroll_DefaultsToOneViewport(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)

	if err := p.Scroll(context.Background(), ScrollDown, 0); err != nil {
		t.Fatalf("Scroll failed: %v", err)
	}
	if err := p.Scroll(context.Background(), ScrollUp, 300); err != nil {
		t.Fatalf("Scroll failed: %v", err)
	}

	calls := f.callsTo("Input.dispatchMouseEvent")
	if len(calls) != 2 {
		t.Fatalf("expected two wheel events, got %d", len(calls))
	}
	if got := calls[0].Params.Get("deltaY").Float(); got != 800 {
		t.Errorf("down: deltaY %v, want 800", got)
	}
	if got := calls[1].Params.Get("deltaY").Float(); got != -300 {
		t.Errorf("up: deltaY %v, want -300", got)
	}
	if calls[0].Params.Get("x").Float() != 640 || calls[0].Params.Get("y").Float() != 400 {
		t.Errorf("wheel not at viewport center: %s", calls[0].Params.Raw)
	}
}

func TestScroll_TopUsesScript(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)

	if err := p.Scroll(context.Background(), ScrollTop, 0); err != nil {
		t.Fatalf("Scroll failed: %v", err)
	}
	evals := f.callsTo("Runtime.evaluate")
	if len(evals) != 1 || !strings.Contains(evals[0].Params.Get("expression").String(), "scrollTo(0, 0)") {
		t.Errorf("unexpected evaluate calls: %+v", evals)
	}
}

func TestScroll_InvalidDirection(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)

	if err := p.Scroll(context.Background(), "sideways", 0); !fault.Is(err, fault.InvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestPressKey_EnterCarriesText(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)

	if err := p.PressKey(context.Background(), "Enter"); err != nil {
		t.Fatalf("PressKey failed: %v", err)
	}
	calls := f.callsTo("Input.dispatchKeyEvent")
	if len(calls) != 2 {
		t.Fatalf("expected keyDown and keyUp, got %d", len(calls))
	}
	if calls[0].Params.Get("text").String() != "\r" || calls[0].Params.Get("windowsVirtualKeyCode").Int() != 13 {
		t.Errorf("unexpected keyDown: %s", calls[0].Params.Raw)
	}
	if calls[1].Params.Get("type").String() != "keyUp" {
		t.Errorf("unexpected keyUp: %s", calls[1].Params.Raw)
	}
}

func TestHighlight_UsesOverlay(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)

	if err := p.Highlight(context.Background(), "h1"); err != nil {
		t.Fatalf("Highlight failed: %v", err)
	}
	calls := f.callsTo("Overlay.highlightNode")
	if len(calls) != 1 || calls[0].Params.Get("nodeId").Int() != 42 {
		t.Errorf("unexpected highlight calls: %+v", calls)
	}
}
