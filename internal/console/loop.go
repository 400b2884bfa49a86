// Package console feeds command lines to a dispatcher, either from a stream
// such as stdin or from clients of a local socket.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tomyan/browsercli/internal/dispatch"
	"github.com/tomyan/browsercli/internal/fault"
	"github.com/tomyan/browsercli/internal/log"
)

// DefaultPrompt is shown before each line when input is a terminal.
const DefaultPrompt = "browser> "

const maxLine = 1 << 20

// Loop runs every line of In against one session, in order, until the input
// ends, a line ends the session, or the context is cancelled. The session is
// closed when Run returns.
type Loop struct {
	Dispatcher *dispatch.Dispatcher
	In         io.Reader
	Out        io.Writer
	// Err receives failures in text format; it defaults to Out.
	Err io.Writer
	// Prompt is written before each read. Empty means no prompt.
	Prompt string
	Format string
	Logger logrus.FieldLogger
}

// Run reads and dispatches lines. It returns nil when the input is exhausted
// or the session ends, and an Interrupted error when ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	logger := log.For(l.Logger, log.CategoryConsole)
	errOut := l.Err
	if errOut == nil {
		errOut = l.Out
	}

	// Cancellation closes the session straight away so that a command in
	// flight is aborted rather than waited for.
	stop := context.AfterFunc(ctx, func() { l.Dispatcher.Close() })
	defer stop()
	defer l.Dispatcher.Close()

	lines, readErr := readLines(l.In)
	defer lines.stop()

	count := 0
	for {
		if l.Prompt != "" {
			fmt.Fprint(l.Out, l.Prompt)
		}

		var next inputLine
		select {
		case <-ctx.Done():
			logger.WithField("lines", count).Debug("console interrupted")
			return fault.Wrap(ctx.Err(), fault.Interrupted, "console")
		case in, ok := <-lines.c:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("reading input: %w", err)
				}
				logger.WithField("lines", count).Debug("input exhausted")
				return nil
			}
			next = in
		}

		line := strings.TrimSpace(next.text)
		if !next.tooLong && (line == "" || strings.HasPrefix(line, "#")) {
			continue
		}
		count++

		var rep dispatch.Report
		if next.tooLong {
			logger.WithField("line", count).Warn("skipping overlong line")
			rep = l.Dispatcher.Refuse(errLineTooLong())
		} else {
			rep = l.Dispatcher.Dispatch(ctx, line)
		}
		w := l.Out
		if !rep.OK && l.Format != dispatch.FormatJSON {
			w = errOut
		}
		if err := rep.Render(w, l.Format); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
		if rep.Ends() {
			return nil
		}
	}
}

func errLineTooLong() error {
	return fault.New(fault.InvalidArgument, "line longer than %d bytes skipped", maxLine)
}

// lineReader reads newline-terminated lines. A line over limit bytes is
// discarded up to its newline.
type lineReader struct {
	r     *bufio.Reader
	limit int
}

func newLineReader(r io.Reader, limit int) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 64*1024), limit: limit}
}

// next returns the next line without its line ending. For an overlong line
// it returns an empty text and tooLong set.
func (lr *lineReader) next() (text string, tooLong bool, err error) {
	var buf []byte
	started := false
	for {
		chunk, more, err := lr.r.ReadLine()
		if err != nil {
			if started && err == io.EOF {
				return string(buf), tooLong, nil
			}
			return "", false, err
		}
		started = true
		if !tooLong {
			if len(buf)+len(chunk) > lr.limit {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !more {
			return string(buf), tooLong, nil
		}
	}
}

type inputLine struct {
	text    string
	tooLong bool
}

type lineFeed struct {
	c    chan inputLine
	done chan struct{}
}

func (f lineFeed) stop() { close(f.done) }

// readLines reads r on its own goroutine so that a blocked read never holds
// up cancellation. The goroutine exits at end of input, or on stop once the
// pending read returns.
func readLines(r io.Reader) (lineFeed, <-chan error) {
	f := lineFeed{c: make(chan inputLine), done: make(chan struct{})}
	errc := make(chan error, 1)

	go func() {
		defer close(f.c)
		lr := newLineReader(r, maxLine)
		for {
			text, tooLong, err := lr.next()
			if err != nil {
				if err == io.EOF {
					err = nil
				}
				errc <- err
				return
			}
			select {
			case f.c <- inputLine{text: text, tooLong: tooLong}:
			case <-f.done:
				return
			}
		}
	}()
	return f, errc
}
