// Package log configures the logrus logger shared by every component.
package log

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Categories attached to log entries.
const (
	CategoryTransport = "transport"
	CategoryLauncher  = "launcher"
	CategorySession   = "session"
	CategoryDispatch  = "dispatch"
	CategoryConsole   = "console"
)

// New returns a logger writing to out at the named level. Colors are forced
// when out is a terminal.
func New(out io.Writer, level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		ForceColors:   isTTY(out),
	})
	return l, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// For scopes l to a component category. A nil logger yields a discarding one.
func For(l logrus.FieldLogger, category string) logrus.FieldLogger {
	if l == nil {
		l = Discard()
	}
	return l.WithField("category", category)
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
