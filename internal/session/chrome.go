package session

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomyan/browsercli/internal/chrome"
	"github.com/tomyan/browsercli/internal/chrome/launcher"
	"github.com/tomyan/browsercli/internal/fault"
)

// ChromeBackend launches a local Chrome and drives it over the DevTools protocol.
type ChromeBackend struct {
	Runner launcher.CommandRunner
	Logger logrus.FieldLogger
}

// Start launches Chrome, connects to it and opens a blank page.
func (b ChromeBackend) Start(ctx context.Context, cfg Config, dataDir string) (Process, Page, error) {
	if cfg.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.LaunchTimeout)
		defer cancel()
	}

	inst, err := launcher.Launch(ctx, launcher.Options{
		ChromePath: cfg.ChromePath,
		Port:       cfg.Port,
		Headless:   cfg.Headless,
		DataDir:    dataDir,
		Width:      cfg.Width,
		Height:     cfg.Height,
		Timeout:    cfg.LaunchTimeout,
		ExtraArgs:  cfg.ChromeArgs,
		Runner:     b.Runner,
		Logger:     b.Logger,
	})
	if err != nil {
		return nil, nil, err
	}

	client, err := dial(ctx, inst.Endpoint(), chrome.Options{
		CallTimeout: cfg.CallTimeout,
		Logger:      b.Logger,
	})
	if err != nil {
		inst.Stop(0)
		return nil, nil, launchFailure(ctx, err, "connecting to the browser")
	}

	page, err := client.NewPage(ctx, cfg.Width, cfg.Height)
	if err != nil {
		client.Close()
		inst.Stop(0)
		return nil, nil, launchFailure(ctx, err, "opening a page")
	}
	return inst, page, nil
}

// launchFailure reports a step that ran out of launch time as LaunchTimeout,
// whatever the step's own classification of the expired deadline.
func launchFailure(ctx context.Context, err error, doing string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !fault.Is(err, fault.LaunchTimeout) {
		return fault.Wrap(err, fault.LaunchTimeout, "%s", doing)
	}
	return err
}

// dial connects to a freshly launched browser. The endpoint can be announced
// a moment before it accepts connections, so unreachable endpoints are retried
// until ctx expires.
func dial(ctx context.Context, endpoint string, opts chrome.Options) (*chrome.Client, error) {
	delay := 50 * time.Millisecond
	for {
		client, err := chrome.Dial(ctx, endpoint, opts)
		if err == nil || !fault.Is(err, fault.TransportUnavailable) {
			return client, err
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, fault.Wrap(err, fault.LaunchTimeout, "browser endpoint %s never accepted a connection", endpoint)
			}
			return nil, fault.Wrap(ctx.Err(), fault.Interrupted, "connecting to %s", endpoint)
		case <-time.After(delay):
		}
		delay = min(delay*2, time.Second)
	}
}
