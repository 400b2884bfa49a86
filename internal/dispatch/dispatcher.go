// Package dispatch turns command lines into operations on a browser session
// and their outcomes into Reports.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomyan/browsercli/internal/chrome"
	"github.com/tomyan/browsercli/internal/fault"
	"github.com/tomyan/browsercli/internal/log"
	"github.com/tomyan/browsercli/internal/session"
)

// Controller is the session surface the dispatcher drives.
type Controller interface {
	ID() string
	Start(ctx context.Context) error
	Close() error
	Status(ctx context.Context) session.Status

	Navigate(ctx context.Context, url string, waitForLoad bool) error
	Reload(ctx context.Context) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error

	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Text(ctx context.Context, selector string) (string, error)
	Elements(ctx context.Context) (any, error)
	Summary(ctx context.Context) (session.PageSummary, error)
	Evaluate(ctx context.Context, script string) (any, error)

	Click(ctx context.Context, selector string) error
	ClickAt(ctx context.Context, x, y float64) error
	DoubleClickAt(ctx context.Context, x, y float64) error
	RightClickAt(ctx context.Context, x, y float64) error
	TypeText(ctx context.Context, selector, text string) error
	Fill(ctx context.Context, selector, value string) error
	Submit(ctx context.Context, selector string) error
	Search(ctx context.Context, query string) (string, error)
	Highlight(ctx context.Context, selector string) error
	Scroll(ctx context.Context, direction string, amount float64) error

	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	WaitForText(ctx context.Context, text string, timeout time.Duration) error
	WaitForNavigation(ctx context.Context, timeout time.Duration) error

	SaveScreenshot(ctx context.Context, name string, fullPage bool) (session.Capture, error)

	Cookies(ctx context.Context) ([]chrome.Cookie, error)
	SetCookie(ctx context.Context, cookie chrome.Cookie) error
	ClearCookies(ctx context.Context) error
	Storage(ctx context.Context, area string) (map[string]string, error)
	Ticker(ctx context.Context, selector string, interval time.Duration, samples int) (session.TickerLog, error)
}

var _ Controller = (*session.Session)(nil)

// Ticker defaults.
const (
	defaultTickInterval = 2 * time.Second
	defaultTicks        = 10
)

// Dispatcher runs commands against one session. It never panics and never
// returns an error: every outcome is a Report.
type Dispatcher struct {
	ctl Controller
	log logrus.FieldLogger
}

// New creates a dispatcher for ctl.
func New(ctl Controller, logger logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{ctl: ctl, log: log.For(logger, log.CategoryDispatch)}
}

// SessionID returns the identifier of the session commands run against.
func (d *Dispatcher) SessionID() string {
	return d.ctl.ID()
}

// Close ends the session. It is safe to call at any time, more than once.
func (d *Dispatcher) Close() error {
	return d.ctl.Close()
}

// Dispatch tokenizes and runs one line.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) Report {
	words, err := lex(line)
	if err != nil {
		return d.Refuse(err)
	}
	return d.dispatch(ctx, words)
}

// DispatchArgs runs one already tokenized command.
func (d *Dispatcher) DispatchArgs(ctx context.Context, args []string) Report {
	return d.dispatch(ctx, plain(args))
}

// Refuse reports err for input that never became a command.
func (d *Dispatcher) Refuse(err error) Report {
	r := failure("", err)
	r.SessionID = d.ctl.ID()
	return r
}

func (d *Dispatcher) dispatch(ctx context.Context, words []word) (rep Report) {
	started := time.Now()
	cmd, err := parse(words)
	name := cmd.Info.Name

	defer func() {
		if p := recover(); p != nil {
			d.log.WithField("stack", string(debug.Stack())).Errorf("panic in %s: %v", name, p)
			rep = failure(name, fault.New(fault.Internal, "panic: %v", p))
		}
		rep.SessionID = d.ctl.ID()

		entry := d.log.WithFields(logrus.Fields{"command": name, "took": time.Since(started)})
		if rep.OK {
			entry.Debug("command done")
		} else {
			entry.WithField("kind", rep.Kind).Debug(rep.Message)
		}
	}()

	if err != nil {
		return failure(name, err)
	}
	data, err := d.run(ctx, cmd)
	if err != nil {
		return failure(name, err)
	}
	return Report{OK: true, Command: name, Data: data}
}

func (d *Dispatcher) run(ctx context.Context, cmd Command) (any, error) {
	ctl := d.ctl

	switch cmd.Info.Kind {
	case Start:
		if err := ctl.Start(ctx); err != nil {
			return nil, err
		}
		return ctl.Status(ctx), nil

	case Status:
		return ctl.Status(ctx), nil

	case Close, Exit:
		return nil, ctl.Close()

	case Help:
		return Describe(cmd.Arg(0))

	case Navigate:
		var waitForLoad bool
		switch w := cmd.Named["wait"]; w {
		case "", "commit":
		case "load":
			waitForLoad = true
		default:
			return nil, fault.New(fault.InvalidArgument, "--wait must be commit or load, got %q", w)
		}
		if err := ctl.Navigate(ctx, cmd.Arg(0), waitForLoad); err != nil {
			return nil, err
		}
		return d.summary(ctx), nil

	case Reload:
		return d.navigated(ctx, ctl.Reload(ctx))
	case Back:
		return d.navigated(ctx, ctl.Back(ctx))
	case Forward:
		return d.navigated(ctx, ctl.Forward(ctx))

	case URL:
		return ctl.URL(ctx)
	case Title:
		return ctl.Title(ctx)
	case Text:
		return ctl.Text(ctx, cmd.Arg(0))
	case Elements:
		return ctl.Elements(ctx)
	case Info:
		return ctl.Summary(ctx)
	case Eval:
		v, err := ctl.Evaluate(ctx, cmd.Arg(0))
		if err != nil {
			return nil, err
		}
		if v == nil {
			return "undefined", nil
		}
		return v, nil

	case Click:
		return nil, ctl.Click(ctx, cmd.Arg(0))
	case ClickAt, DoubleClickAt, RightClickAt:
		x, err := cmd.Float(0, "x")
		if err != nil {
			return nil, err
		}
		y, err := cmd.Float(1, "y")
		if err != nil {
			return nil, err
		}
		switch cmd.Info.Kind {
		case DoubleClickAt:
			return nil, ctl.DoubleClickAt(ctx, x, y)
		case RightClickAt:
			return nil, ctl.RightClickAt(ctx, x, y)
		}
		return nil, ctl.ClickAt(ctx, x, y)
	case Type:
		return nil, ctl.TypeText(ctx, cmd.Arg(0), cmd.Arg(1))
	case Fill:
		return nil, ctl.Fill(ctx, cmd.Arg(0), cmd.Arg(1))
	case Submit:
		return nil, ctl.Submit(ctx, cmd.Arg(0))
	case Search:
		used, err := ctl.Search(ctx, cmd.Arg(0))
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("searched %q using %s", cmd.Arg(0), used), nil
	case Highlight:
		return nil, ctl.Highlight(ctx, cmd.Arg(0))
	case Scroll:
		direction, amount, err := scrollArgs(cmd)
		if err != nil {
			return nil, err
		}
		return nil, ctl.Scroll(ctx, direction, amount)

	case WaitFor, WaitForText, WaitForNav:
		timeout, err := cmd.Duration("timeout")
		if err != nil {
			return nil, err
		}
		switch cmd.Info.Kind {
		case WaitFor:
			err = ctl.WaitFor(ctx, cmd.Arg(0), timeout)
		case WaitForText:
			err = ctl.WaitForText(ctx, cmd.Arg(0), timeout)
		default:
			err = ctl.WaitForNavigation(ctx, timeout)
		}
		return nil, err

	case Screenshot:
		full, err := cmd.Bool("full")
		if err != nil {
			return nil, err
		}
		c, err := ctl.SaveScreenshot(ctx, cmd.Arg(0), full)
		if err != nil {
			return nil, err
		}
		return savedScreenshot(c), nil

	case Cookies:
		return ctl.Cookies(ctx)
	case SetCookie:
		cookie := chrome.Cookie{Name: cmd.Arg(0), Value: cmd.Arg(1), Domain: cmd.Named["domain"]}
		return nil, ctl.SetCookie(ctx, cookie)
	case ClearCookies:
		return nil, ctl.ClearCookies(ctx)
	case Storage:
		area := cmd.Arg(0)
		if area == "" {
			area = chrome.LocalStorage
		}
		return ctl.Storage(ctx, area)

	case Ticker:
		interval, err := cmd.Duration("interval")
		if err != nil {
			return nil, err
		}
		if interval == 0 {
			interval = defaultTickInterval
		}
		samples, err := cmd.Count("max", defaultTicks)
		if err != nil {
			return nil, err
		}
		return ctl.Ticker(ctx, cmd.Arg(0), interval, samples)
	}

	return nil, fault.New(fault.Internal, "no handler for %s", cmd.Info.Name)
}

// navigated follows a successful history operation with a page summary.
func (d *Dispatcher) navigated(ctx context.Context, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return d.summary(ctx), nil
}

// summary describes the page after a navigation. A failure to summarize does
// not fail the navigation.
func (d *Dispatcher) summary(ctx context.Context) any {
	ps, err := d.ctl.Summary(ctx)
	if err != nil {
		d.log.WithError(err).Debug("summarizing page")
		return nil
	}
	return ps
}

var scrollDirections = map[string]bool{"up": true, "down": true, "top": true, "bottom": true}

// scrollArgs accepts "scroll", "scroll <direction>", "scroll <pixels>" and
// "scroll <direction> <pixels>".
func scrollArgs(cmd Command) (string, float64, error) {
	direction, amountAt := "down", -1
	switch len(cmd.Args) {
	case 1:
		if scrollDirections[cmd.Arg(0)] {
			direction = cmd.Arg(0)
		} else {
			amountAt = 0
		}
	case 2:
		direction, amountAt = cmd.Arg(0), 1
	}
	if !scrollDirections[direction] {
		return "", 0, fault.New(fault.InvalidArgument, "direction must be up, down, top or bottom, got %q", direction)
	}
	if amountAt < 0 {
		return direction, 0, nil
	}
	amount, err := cmd.Float(amountAt, "pixels")
	if err != nil {
		return "", 0, err
	}
	if amount < 0 {
		return "", 0, fault.New(fault.InvalidArgument, "pixels must not be negative, got %g", amount)
	}
	return direction, amount, nil
}

type savedScreenshot session.Capture

func (c savedScreenshot) String() string {
	return fmt.Sprintf("saved %s (%d bytes)", c.Path, c.Bytes)
}
