package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyan/browsercli/internal/chrome"
	"github.com/tomyan/browsercli/internal/fault"
)

func TestCookies(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.s.SetCookie(ctx, chrome.Cookie{Name: "sid", Value: "abc"}))
	cookies, err := h.s.Cookies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []chrome.Cookie{{Name: "sid", Value: "abc"}}, cookies)

	require.NoError(t, h.s.ClearCookies(ctx))
	cookies, err = h.s.Cookies(ctx)
	require.NoError(t, err)
	assert.Empty(t, cookies)

	assert.Equal(t, []string{"set-cookie sid", "cookies", "clear-cookies", "cookies"}, h.page.recorded())
}

func TestSetCookie_NeedsName(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	err := h.s.SetCookie(context.Background(), chrome.Cookie{Value: "x"})
	assert.True(t, fault.Is(err, fault.InvalidArgument), "got %v", err)
	assert.Zero(t, h.backend.startCount())
}

func TestStorage(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.page.storage = map[string]map[string]string{"local": {"theme": "dark"}}
	ctx := context.Background()

	entries, err := h.s.Storage(ctx, "local")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"theme": "dark"}, entries)

	entries, err = h.s.Storage(ctx, "session")
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = h.s.Storage(ctx, "indexeddb")
	assert.True(t, fault.Is(err, fault.InvalidArgument), "got %v", err)
}

func TestTicker_ReportsChanges(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	counts := []float64{1, 1, 2, 2}
	var scripts []string
	h.page.eval = func(script string) (any, error) {
		scripts = append(scripts, script)
		n := counts[0]
		counts = counts[1:]
		return map[string]any{"selector": ".item", "count": n}, nil
	}

	tl, err := h.s.Ticker(context.Background(), ".item", time.Millisecond, 4)
	require.NoError(t, err)
	require.Len(t, tl.Ticks, 4)
	assert.Equal(t, []bool{false, false, true, false},
		[]bool{tl.Ticks[0].Changed, tl.Ticks[1].Changed, tl.Ticks[2].Changed, tl.Ticks[3].Changed})
	assert.NotNil(t, tl.Ticks[0].State, "the baseline carries the state")
	assert.Nil(t, tl.Ticks[1].State)
	assert.Equal(t, 1, tl.Changes())
	assert.Contains(t, scripts[0], `document.querySelectorAll(".item")`)

	text := tl.String()
	assert.True(t, strings.HasPrefix(text, `watched ".item" 4 times every 1ms: 1 changes`), text)
	assert.Contains(t, text, "\n03:04:05 baseline {")
	assert.Contains(t, text, "\n03:04:05 changed {")
	assert.Contains(t, text, "\n03:04:05 unchanged")
}

func TestTicker_WholePage(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	var script string
	h.page.eval = func(s string) (any, error) {
		script = s
		return map[string]any{"forms": float64(1)}, nil
	}

	tl, err := h.s.Ticker(context.Background(), "", time.Millisecond, 1)
	require.NoError(t, err)
	assert.Equal(t, "page", tl.Target)
	assert.Len(t, tl.Ticks, 1)
	assert.Contains(t, script, "document.forms.length")
}

func TestTicker_RejectsBadBounds(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	for _, tt := range []struct {
		interval time.Duration
		samples  int
	}{
		{0, 5},
		{-time.Second, 5},
		{time.Second, 0},
		{time.Second, MaxTicks + 1},
	} {
		_, err := h.s.Ticker(ctx, "", tt.interval, tt.samples)
		assert.True(t, fault.Is(err, fault.InvalidArgument), "%+v: got %v", tt, err)
	}
	assert.Zero(t, h.backend.startCount())
}

func TestTicker_StopsOnClose(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sampled := make(chan struct{}, MaxTicks)
	h.page.eval = func(string) (any, error) {
		sampled <- struct{}{}
		return "same", nil
	}

	errc := make(chan error, 1)
	go func() {
		_, err := h.s.Ticker(context.Background(), "", 20*time.Millisecond, MaxTicks)
		errc <- err
	}()

	<-sampled
	require.NoError(t, h.s.Close())

	select {
	case err := <-errc:
		assert.True(t, fault.Is(err, fault.Interrupted), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("ticker kept running after close")
	}
	assert.Equal(t, Closed, h.s.State())
}
