// Package launcher provides Chrome browser discovery, launching, and lifecycle management.
package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomyan/browsercli/internal/fault"
	"github.com/tomyan/browsercli/internal/log"
)

// Options configures Chrome launching.
type Options struct {
	ChromePath string        // Path to Chrome binary (auto-detected if empty)
	Port       int           // Remote debugging port; 0 lets Chrome pick and announce one
	Headless   bool          // Run in headless mode
	DataDir    string        // User data directory (temp dir created and owned if empty)
	Width      int           // Window width, ignored when zero
	Height     int           // Window height, ignored when zero
	Timeout    time.Duration // Ceiling on the process becoming reachable (default 30s)
	ExtraArgs  []string
	Runner     CommandRunner // Runs the orphan sweep (default DefaultCommandRunner)
	Logger     logrus.FieldLogger
}

const defaultLaunchTimeout = 30 * time.Second

// Instance represents a running Chrome instance.
type Instance struct {
	cmd      *exec.Cmd
	endpoint string
	dataDir  string
	ownsData bool
	runner   CommandRunner
	log      logrus.FieldLogger

	exited  chan struct{}
	waitErr error

	stopOnce sync.Once
}

// FindChrome locates Chrome on the system. If chromePath is non-empty and exists,
// it is returned directly. Otherwise, searches PATH and known install locations.
func FindChrome(chromePath string) string {
	if chromePath != "" {
		if _, err := os.Stat(chromePath); err == nil {
			return chromePath
		}
		return ""
	}

	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	var paths []string
	switch runtime.GOOS {
	case "darwin":
		paths = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "linux":
		paths = []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	case "windows":
		paths = []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// IsPortOpen checks if a TCP port is accepting connections.
func IsPortOpen(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// WaitForPort polls a TCP port until it accepts connections, backing off
// from 25ms up to 500ms between attempts.
func WaitForPort(ctx context.Context, host string, port int) error {
	delay := 25 * time.Millisecond
	for {
		if IsPortOpen(host, port) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", net.JoinHostPort(host, strconv.Itoa(port)), ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, 500*time.Millisecond)
	}
}

// Args returns the command line Chrome is started with.
func Args(opts Options, dataDir string) []string {
	args := []string{
		"--disable-gpu",
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--disable-extensions",
		"--disable-background-networking",
		"--disable-sync",
		"--disable-translate",
		"--mute-audio",
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-default-apps",
		fmt.Sprintf("--remote-debugging-port=%d", opts.Port),
		fmt.Sprintf("--user-data-dir=%s", dataDir),
	}
	if opts.Headless {
		args = append([]string{"--headless=new"}, args...)
	}
	if opts.Width > 0 && opts.Height > 0 {
		args = append(args, fmt.Sprintf("--window-size=%d,%d", opts.Width, opts.Height))
	}
	args = append(args, opts.ExtraArgs...)
	return append(args, "about:blank")
}

// Launch starts a Chrome instance and waits until its debugging endpoint is
// reachable. A process that exits first yields TransportUnavailable with the
// errors it printed; one that stays silent past the timeout is stopped and
// yields LaunchTimeout.
func Launch(ctx context.Context, opts Options) (*Instance, error) {
	logger := log.For(opts.Logger, log.CategoryLauncher)

	chromePath := FindChrome(opts.ChromePath)
	if chromePath == "" {
		if opts.ChromePath != "" {
			return nil, fault.New(fault.TransportUnavailable, "chrome not found at %s", opts.ChromePath)
		}
		return nil, fault.New(fault.TransportUnavailable, "chrome not found")
	}

	ownsData := false
	dataDir := opts.DataDir
	if dataDir == "" {
		var err error
		dataDir, err = os.MkdirTemp("", "browsercli-chrome-*")
		if err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		ownsData = true
	}

	runner := opts.Runner
	if runner == nil {
		runner = DefaultCommandRunner{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}

	stderr := newAnnounceWriter(logger)
	cmd := exec.Command(chromePath, Args(opts, dataDir)...)
	cmd.Stderr = stderr
	// Chrome's helpers inherit stderr; don't let them hold Wait open.
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		if ownsData {
			os.RemoveAll(dataDir)
		}
		return nil, fault.Wrap(err, fault.TransportUnavailable, "starting chrome")
	}

	inst := &Instance{
		cmd:      cmd,
		dataDir:  dataDir,
		ownsData: ownsData,
		runner:   runner,
		log:      logger.WithField("pid", cmd.Process.Pid),
		exited:   make(chan struct{}),
	}
	go func() {
		inst.waitErr = cmd.Wait()
		close(inst.exited)
	}()
	inst.log.WithField("path", chromePath).Debug("chrome started")

	launchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint, err := inst.awaitEndpoint(launchCtx, opts.Port, stderr)
	if err != nil {
		inst.Stop(0)
		if fault.KindOf(err) == fault.Internal {
			return nil, fault.Wrap(err, fault.LaunchTimeout, "chrome did not become reachable within %s", timeout)
		}
		return nil, err
	}
	inst.endpoint = endpoint
	inst.log.WithField("endpoint", endpoint).Debug("chrome reachable")
	return inst, nil
}

func (inst *Instance) awaitEndpoint(ctx context.Context, port int, stderr *announceWriter) (string, error) {
	if port > 0 {
		ready := make(chan error, 1)
		go func() { ready <- WaitForPort(ctx, "127.0.0.1", port) }()
		select {
		case err := <-ready:
			if err != nil {
				return "", launchCancelled(ctx, err)
			}
			return net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), nil
		case <-inst.exited:
			return "", inst.exitError(stderr)
		}
	}

	select {
	case ws := <-stderr.found:
		return ws, nil
	case <-inst.exited:
		return "", inst.exitError(stderr)
	case <-ctx.Done():
		return "", launchCancelled(ctx, fmt.Errorf("waiting for endpoint announcement: %w", ctx.Err()))
	}
}

func launchCancelled(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fault.Wrap(err, fault.Interrupted, "launching chrome")
	}
	return err
}

func (inst *Instance) exitError(stderr *announceWriter) error {
	msg := "chrome exited before its debugging endpoint was reachable"
	if inst.waitErr != nil {
		msg += " (" + inst.waitErr.Error() + ")"
	}
	if lines := stderr.errorLines(); len(lines) > 0 {
		return fault.New(fault.TransportUnavailable, "%s:\n%s", msg, strings.Join(lines, "\n"))
	}
	return fault.New(fault.TransportUnavailable, "%s", msg)
}

// PID returns the process ID of the browser.
func (inst *Instance) PID() int {
	return inst.cmd.Process.Pid
}

// Endpoint returns the debugging endpoint: the announced ws:// URL, or
// host:port in fixed-port mode.
func (inst *Instance) Endpoint() string {
	return inst.endpoint
}

// DataDir returns the user data directory the browser was started with.
func (inst *Instance) DataDir() string {
	return inst.dataDir
}

// Done is closed when the process has exited.
func (inst *Instance) Done() <-chan struct{} {
	return inst.exited
}

// Stop terminates Chrome and cleans up. It asks politely first and kills after
// grace. It is safe to call more than once and after the process has exited
// on its own.
func (inst *Instance) Stop(grace time.Duration) error {
	inst.stopOnce.Do(func() {
		inst.terminate(grace)

		// Kill orphaned child processes
		if runtime.GOOS != "windows" {
			inst.runner.Run("pkill", "-9", "-f", inst.dataDir)
		}

		if inst.ownsData {
			if err := os.RemoveAll(inst.dataDir); err != nil {
				inst.log.WithError(err).Warn("removing data dir")
			}
		}
		inst.log.Debug("chrome stopped")
	})
	return nil
}

func (inst *Instance) terminate(grace time.Duration) {
	select {
	case <-inst.exited:
		return
	default:
	}

	if grace > 0 {
		if err := inst.cmd.Process.Signal(syscall.SIGTERM); err == nil {
			timer := time.NewTimer(grace)
			defer timer.Stop()
			select {
			case <-inst.exited:
				return
			case <-timer.C:
				inst.log.WithField("grace", grace).Debug("chrome ignored SIGTERM, killing")
			}
		}
	}

	inst.cmd.Process.Kill()
	<-inst.exited
}

// announceWriter receives Chrome's stderr. It reports the first
// "DevTools listening on" URL and keeps the last few error lines.
type announceWriter struct {
	log   logrus.FieldLogger
	found chan string

	mu     sync.Mutex
	buf    []byte
	errs   []string
	posted bool
}

const (
	announcePrefix = "DevTools listening on "
	maxErrorLines  = 10
)

func newAnnounceWriter(logger logrus.FieldLogger) *announceWriter {
	return &announceWriter{log: logger, found: make(chan string, 1)}
}

func (w *announceWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.line(strings.TrimSpace(string(w.buf[:i])))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *announceWriter) line(line string) {
	if line == "" {
		return
	}
	w.log.WithField("stderr", line).Trace("chrome")

	if i := strings.Index(line, announcePrefix); i >= 0 && !w.posted {
		w.posted = true
		w.found <- strings.TrimSpace(line[i+len(announcePrefix):])
		return
	}
	if strings.Contains(line, ":ERROR:") || strings.HasPrefix(line, "ERROR") {
		w.errs = append(w.errs, line)
		if len(w.errs) > maxErrorLines {
			w.errs = w.errs[1:]
		}
	}
}

func (w *announceWriter) errorLines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.errs...)
}
