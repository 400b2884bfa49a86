package chrome

import (
	"context"
	"testing"

	"github.com/tomyan/browsercli/internal/fault"
)

func TestCookies_ParsesReply(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	f.reply("Network.getCookies", map[string]any{"cookies": []map[string]any{{
		"name": "sid", "value": "abc", "domain": "example.com", "path": "/",
		"expires": -1, "size": 6, "httpOnly": true, "secure": false, "session": true, "sameSite": "Lax",
	}}})

	cookies, err := p.Cookies(context.Background())
	if err != nil {
		t.Fatalf("Cookies failed: %v", err)
	}
	want := Cookie{Name: "sid", Value: "abc", Domain: "example.com", Path: "/", Expires: -1, HTTPOnly: true, SameSite: "Lax"}
	if len(cookies) != 1 || cookies[0] != want {
		t.Fatalf("got %+v, want [%+v]", cookies, want)
	}
	if calls := f.callsTo("Network.getCookies"); len(calls) != 1 || calls[0].SessionID != "S1" {
		t.Errorf("expected one session-scoped call, got %+v", calls)
	}
}

func TestCookies_NoneIsEmpty(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)

	cookies, err := p.Cookies(context.Background())
	if err != nil || cookies == nil || len(cookies) != 0 {
		t.Fatalf("got (%v, %v), want an empty list", cookies, err)
	}
}

func TestSetCookie_DefaultsToPageURL(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	f.reply("Runtime.evaluate", map[string]any{"result": map[string]any{"type": "string", "value": "https://example.com/a"}})
	f.reply("Network.setCookie", map[string]any{"success": true})

	if err := p.SetCookie(context.Background(), Cookie{Name: "theme", Value: "dark"}); err != nil {
		t.Fatalf("SetCookie failed: %v", err)
	}
	calls := f.callsTo("Network.setCookie")
	if len(calls) != 1 {
		t.Fatalf("expected one setCookie call, got %d", len(calls))
	}
	params := calls[0].Params
	if params.Get("url").String() != "https://example.com/a" || params.Get("name").String() != "theme" || params.Get("value").String() != "dark" {
		t.Errorf("unexpected params %s", params.Raw)
	}
	if params.Get("domain").Exists() {
		t.Errorf("domain should be left to the URL, got %s", params.Raw)
	}
}

func TestSetCookie_BlankPageNeedsDomain(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	f.reply("Runtime.evaluate", map[string]any{"result": map[string]any{"type": "string", "value": "about:blank"}})

	err := p.SetCookie(context.Background(), Cookie{Name: "theme", Value: "dark"})
	if !fault.Is(err, fault.InvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if n := len(f.callsTo("Network.setCookie")); n != 0 {
		t.Errorf("no cookie should be sent, got %d calls", n)
	}
}

func TestSetCookie_Refused(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	f.reply("Network.setCookie", map[string]any{"success": false})

	err := p.SetCookie(context.Background(), Cookie{Name: "bad", Value: "x", Domain: "example.com"})
	if !fault.Is(err, fault.CommandRejected) {
		t.Fatalf("expected CommandRejected, got %v", err)
	}
	params := f.callsTo("Network.setCookie")[0].Params
	if params.Get("domain").String() != "example.com" || params.Get("path").String() != "/" {
		t.Errorf("unexpected params %s", params.Raw)
	}
}

func TestClearCookies(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)

	if err := p.ClearCookies(context.Background()); err != nil {
		t.Fatalf("ClearCookies failed: %v", err)
	}
	if n := len(f.callsTo("Network.clearBrowserCookies")); n != 1 {
		t.Errorf("expected one clearBrowserCookies call, got %d", n)
	}
}

func TestWebStorage(t *testing.T) {
	t.Parallel()
	f := newFakeEndpoint(t)
	p := newTestPage(t, f)
	f.reply("Runtime.evaluate", map[string]any{"result": map[string]any{"type": "object", "value": map[string]any{"theme": "dark", "count": "3"}}})

	entries, err := p.WebStorage(context.Background(), SessionStorage)
	if err != nil {
		t.Fatalf("WebStorage failed: %v", err)
	}
	if len(entries) != 2 || entries["theme"] != "dark" || entries["count"] != "3" {
		t.Errorf("got %v", entries)
	}
	calls := f.callsTo("Runtime.evaluate")
	if got := calls[len(calls)-1].Params.Get("expression").String(); got != "Object.fromEntries(Object.entries(sessionStorage))" {
		t.Errorf("unexpected expression %q", got)
	}

	if _, err := p.WebStorage(context.Background(), "cookie"); !fault.Is(err, fault.InvalidArgument) {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}
