package chrome

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrProtocolError    = errors.New("protocol error")
)

// ProtocolError is the native error envelope of a rejected command.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("protocol error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocolError
}

// VersionInfo contains browser version information.
type VersionInfo struct {
	Browser         string `json:"browser"`
	ProtocolVersion string `json:"protocol"`
	UserAgent       string `json:"userAgent,omitempty"`
	V8Version       string `json:"v8,omitempty"`
}

// Box is an element's rectangle in viewport CSS pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box.
func (b Box) Center() (x, y float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Element is the first node matching a selector.
type Element struct {
	Selector string `json:"selector"`
	NodeID   int64  `json:"nodeId"`
	Tag      string `json:"tag"`
	Box      *Box   `json:"box,omitempty"` // nil when the node is not rendered
}

// Viewport is the size of the visible layout viewport.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Scroll directions accepted by Page.Scroll.
const (
	ScrollUp     = "up"
	ScrollDown   = "down"
	ScrollTop    = "top"
	ScrollBottom = "bottom"
)

// Cookie is a browser cookie as the Network domain reports it.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // seconds since the epoch; -1 for session cookies
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Web storage areas accepted by Page.WebStorage.
const (
	LocalStorage   = "local"
	SessionStorage = "session"
)
