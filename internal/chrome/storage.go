package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tomyan/browsercli/internal/fault"
)

// Cookies returns the cookies visible to the page's current URL.
func (p *Page) Cookies(ctx context.Context) ([]Cookie, error) {
	res, err := p.call(ctx, "Network.getCookies", nil)
	if err != nil {
		return nil, err
	}

	cookies := []Cookie{}
	if raw := res.Get("cookies"); raw.Exists() {
		if err := json.Unmarshal([]byte(raw.Raw), &cookies); err != nil {
			return nil, fault.Wrap(err, fault.Internal, "parsing cookies")
		}
	}
	return cookies, nil
}

// SetCookie stores a cookie. Without a domain the cookie belongs to the
// page's current URL, which must then be an http(s) one.
func (p *Page) SetCookie(ctx context.Context, cookie Cookie) error {
	params := map[string]any{
		"name":  cookie.Name,
		"value": cookie.Value,
	}
	if cookie.Domain != "" {
		params["domain"] = cookie.Domain
		params["path"] = "/"
	} else {
		v, err := p.Evaluate(ctx, `location.href`)
		if err != nil {
			return err
		}
		url, _ := v.(string)
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fault.New(fault.InvalidArgument, "cookie %q needs a domain while the page is at %s", cookie.Name, url)
		}
		params["url"] = url
	}
	if cookie.Path != "" {
		params["path"] = cookie.Path
	}
	if cookie.Expires > 0 {
		params["expires"] = cookie.Expires
	}
	if cookie.HTTPOnly {
		params["httpOnly"] = true
	}
	if cookie.Secure {
		params["secure"] = true
	}
	if cookie.SameSite != "" {
		params["sameSite"] = cookie.SameSite
	}

	res, err := p.call(ctx, "Network.setCookie", params)
	if err != nil {
		return err
	}
	if ok := res.Get("success"); ok.Exists() && !ok.Bool() {
		return fault.New(fault.CommandRejected, "browser refused cookie %q", cookie.Name)
	}
	return nil
}

// ClearCookies deletes every cookie in the browser.
func (p *Page) ClearCookies(ctx context.Context) error {
	_, err := p.call(ctx, "Network.clearBrowserCookies", nil)
	return err
}

// WebStorage returns the entries of the page's local or session storage.
func (p *Page) WebStorage(ctx context.Context, area string) (map[string]string, error) {
	var object string
	switch area {
	case LocalStorage:
		object = "localStorage"
	case SessionStorage:
		object = "sessionStorage"
	default:
		return nil, fault.New(fault.InvalidArgument, "storage area must be %s or %s, got %q", LocalStorage, SessionStorage, area)
	}

	v, err := p.Evaluate(ctx, fmt.Sprintf(`Object.fromEntries(Object.entries(%s))`, object))
	if err != nil {
		return nil, err
	}
	entries := map[string]string{}
	if m, ok := v.(map[string]any); ok {
		for k, val := range m {
			entries[k] = fmt.Sprint(val)
		}
	}
	return entries, nil
}
