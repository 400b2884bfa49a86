package storage

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// DefaultScreenshotDir is where screenshots go when no directory is configured.
const DefaultScreenshotDir = "browser-ss"

// ScreenshotPath decides where a screenshot is written. A name containing a
// path separator is used as given; a bare name is placed in dir. Without a
// name, the file is named after the page's route and the capture time.
func ScreenshotPath(dir, name, pageURL string, now time.Time) string {
	if dir == "" {
		dir = DefaultScreenshotDir
	}
	if name != "" {
		if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
			return name
		}
		return filepath.Join(dir, name)
	}
	return filepath.Join(dir, Route(pageURL)+"_"+now.Format("20060102_150405")+".png")
}

// Route turns a page URL into a short file-name-safe token such as
// "example_com_home" or "github_com__tomyan_browsercli".
func Route(pageURL string) string {
	if pageURL == "" || pageURL == "about:blank" {
		return "blank"
	}

	var route string
	if u, err := url.Parse(pageURL); err == nil {
		host := u.Hostname()
		if host == "" {
			host = "unknown"
		}
		host = strings.ReplaceAll(strings.ReplaceAll(host, "www.", ""), ".", "_")

		path := u.EscapedPath()
		if u.Opaque != "" {
			path = u.Opaque
		}
		if u.RawQuery != "" {
			path += "?" + u.RawQuery
		}
		if path == "" || path == "/" {
			path = "home"
		} else {
			path = pathReplacer.Replace(path)
			path = truncate(filterName(path), 30)
		}
		route = host + "_" + path
	} else {
		route = truncate(filterName(pageURL), 20)
	}

	if route == "" {
		return "unknown"
	}
	return route
}

var pathReplacer = strings.NewReplacer(
	"/", "_",
	"?", "_q_",
	"&", "_and_",
	"=", "_eq_",
)

func filterName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return -1
	}, s)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
