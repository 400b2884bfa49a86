package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/tomyan/browsercli/internal/dispatch"
	"github.com/tomyan/browsercli/internal/session"
)

const rcName = ".browserclirc"

// Config holds the CLI configuration.
type Config struct {
	Session  session.Config
	Output   string // text or json
	Socket   string // unix socket of a running server
	LogLevel string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Fs holds the config files, the browser profile and screenshots.
	Fs        afero.Fs
	LookupEnv func(string) (string, bool)
	HomeDir   func() (string, error)
	// Backend replaces the Chrome backend when set.
	Backend session.Backend
}

// DefaultConfig returns the built-in defaults wired to the real process.
func DefaultConfig() *Config {
	return &Config{
		Session:   session.DefaultConfig(),
		Output:    dispatch.FormatText,
		LogLevel:  "warn",
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		Fs:        afero.NewOsFs(),
		LookupEnv: os.LookupEnv,
		HomeDir:   os.UserHomeDir,
	}
}

// fileConfig represents the .browserclirc structure. YAML is a superset of
// JSON so either form is accepted.
type fileConfig struct {
	Chrome        *string  `yaml:"chrome"`
	ChromeArgs    []string `yaml:"chromeArgs"`
	Headless      *bool    `yaml:"headless"`
	Width         *int     `yaml:"width"`
	Height        *int     `yaml:"height"`
	Port          *int     `yaml:"port"`
	Timeout       *string  `yaml:"timeout"` // duration string, e.g. "10s"
	LaunchTimeout *string  `yaml:"launchTimeout"`
	NavTimeout    *string  `yaml:"navTimeout"`
	Grace         *string  `yaml:"grace"`
	FullPage      *bool    `yaml:"fullPage"`
	ScreenshotDir *string  `yaml:"screenshotDir"`
	Output        *string  `yaml:"output"`
	Socket        *string  `yaml:"socket"`
	LogLevel      *string  `yaml:"logLevel"`
}

// loadConfigFile applies the first config file found. An explicit path must
// exist; otherwise the CWD is checked first, then the home directory.
func loadConfigFile(cfg *Config, explicit string) error {
	var paths []string
	if explicit != "" {
		paths = []string{explicit}
	} else {
		paths = append(paths, filepath.Join(".", rcName))
		if cfg.HomeDir != nil {
			if home, err := cfg.HomeDir(); err == nil {
				paths = append(paths, filepath.Join(home, rcName))
			}
		}
	}

	for _, p := range paths {
		data, err := afero.ReadFile(cfg.Fs, p)
		if errors.Is(err, os.ErrNotExist) && explicit == "" {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("parsing %s: %w", p, err)
		}
		if err := applyFileConfig(cfg, &fc); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		return nil
	}
	return nil
}

func applyFileConfig(cfg *Config, fc *fileConfig) error {
	s := &cfg.Session
	if fc.Chrome != nil {
		s.ChromePath = *fc.Chrome
	}
	if fc.ChromeArgs != nil {
		s.ChromeArgs = fc.ChromeArgs
	}
	if fc.Headless != nil {
		s.Headless = *fc.Headless
	}
	if fc.Width != nil {
		s.Width = *fc.Width
	}
	if fc.Height != nil {
		s.Height = *fc.Height
	}
	if fc.Port != nil {
		s.Port = *fc.Port
	}
	if fc.FullPage != nil {
		s.FullPage = *fc.FullPage
	}
	if fc.ScreenshotDir != nil {
		s.ScreenshotDir = *fc.ScreenshotDir
	}
	if fc.Output != nil {
		cfg.Output = *fc.Output
	}
	if fc.Socket != nil {
		cfg.Socket = *fc.Socket
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}

	for _, d := range []struct {
		name string
		raw  *string
		dst  *time.Duration
	}{
		{"timeout", fc.Timeout, &s.CallTimeout},
		{"launchTimeout", fc.LaunchTimeout, &s.LaunchTimeout},
		{"navTimeout", fc.NavTimeout, &s.NavTimeout},
		{"grace", fc.Grace, &s.Grace},
	} {
		if d.raw == nil {
			continue
		}
		v, err := time.ParseDuration(*d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

// loadDotEnv reads .env from the working directory. A missing file yields
// no values.
func loadDotEnv(fs afero.Fs) (map[string]string, error) {
	f, err := fs.Open(".env")
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading .env: %w", err)
	}
	defer f.Close()

	vars, err := godotenv.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing .env: %w", err)
	}
	return vars, nil
}

// applyEnvVars reads BROWSERCLI_* variables. Values from .env apply only
// when the variable is not set in the environment.
func applyEnvVars(cfg *Config, dotenv map[string]string) error {
	lookup := func(key string) (string, bool) {
		if cfg.LookupEnv != nil {
			if v, ok := cfg.LookupEnv(key); ok {
				return v, true
			}
		}
		v, ok := dotenv[key]
		return v, ok
	}

	s := &cfg.Session
	strs := map[string]*string{
		"BROWSERCLI_CHROME":         &s.ChromePath,
		"BROWSERCLI_OUTPUT":         &cfg.Output,
		"BROWSERCLI_SCREENSHOT_DIR": &s.ScreenshotDir,
		"BROWSERCLI_SOCKET":         &cfg.Socket,
		"BROWSERCLI_LOG_LEVEL":      &cfg.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("BROWSERCLI_HEADLESS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BROWSERCLI_HEADLESS: %w", err)
		}
		s.Headless = b
	}

	durations := map[string]*time.Duration{
		"BROWSERCLI_TIMEOUT":        &s.CallTimeout,
		"BROWSERCLI_LAUNCH_TIMEOUT": &s.LaunchTimeout,
		"BROWSERCLI_NAV_TIMEOUT":    &s.NavTimeout,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

// registerFlags adds the global flags, with defaults taken from cfg.
func registerFlags(flags *pflag.FlagSet, cfg *Config) {
	s := cfg.Session
	flags.String("chrome", s.ChromePath, "Chrome executable (default: search PATH)")
	flags.Bool("headless", s.Headless, "Run Chrome without a window")
	flags.Int("width", s.Width, "Viewport width")
	flags.Int("height", s.Height, "Viewport height")
	flags.Int("port", s.Port, "Remote debugging port (0 picks a free one)")
	flags.Duration("timeout", s.CallTimeout, "Ceiling on a single browser call")
	flags.Duration("launch-timeout", s.LaunchTimeout, "Ceiling on the browser becoming reachable")
	flags.Duration("nav-timeout", s.NavTimeout, "Ceiling on a navigation committing")
	flags.Duration("grace", s.Grace, "Time the browser gets to exit before it is killed")
	flags.Bool("full-page", s.FullPage, "Capture the whole document in screenshots")
	flags.String("screenshot-dir", s.ScreenshotDir, "Directory for screenshots")
	flags.StringP("output", "o", cfg.Output, "Output format: text or json")
	flags.String("socket", cfg.Socket, "Unix socket of a running browsercli serve")
	flags.String("config", "", "Config file (default: ./"+rcName+" then ~/"+rcName+")")
	flags.BoolP("verbose", "v", false, "Log at debug level")
	flags.String("log-level", cfg.LogLevel, "Log level: debug, info, warn or error")
}

// applyFlags copies every flag given on the command line into cfg. Flags
// left at their defaults do not override the file or the environment.
func applyFlags(cfg *Config, flags *pflag.FlagSet) error {
	var errs []error
	get := func(name string, apply func() error) {
		if flags.Changed(name) {
			if err := apply(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	s := &cfg.Session

	get("chrome", func() (err error) { s.ChromePath, err = flags.GetString("chrome"); return })
	get("headless", func() (err error) { s.Headless, err = flags.GetBool("headless"); return })
	get("width", func() (err error) { s.Width, err = flags.GetInt("width"); return })
	get("height", func() (err error) { s.Height, err = flags.GetInt("height"); return })
	get("port", func() (err error) { s.Port, err = flags.GetInt("port"); return })
	get("timeout", func() (err error) { s.CallTimeout, err = flags.GetDuration("timeout"); return })
	get("launch-timeout", func() (err error) { s.LaunchTimeout, err = flags.GetDuration("launch-timeout"); return })
	get("nav-timeout", func() (err error) { s.NavTimeout, err = flags.GetDuration("nav-timeout"); return })
	get("grace", func() (err error) { s.Grace, err = flags.GetDuration("grace"); return })
	get("full-page", func() (err error) { s.FullPage, err = flags.GetBool("full-page"); return })
	get("screenshot-dir", func() (err error) { s.ScreenshotDir, err = flags.GetString("screenshot-dir"); return })
	get("output", func() (err error) { cfg.Output, err = flags.GetString("output"); return })
	get("socket", func() (err error) { cfg.Socket, err = flags.GetString("socket"); return })
	get("log-level", func() (err error) { cfg.LogLevel, err = flags.GetString("log-level"); return })
	get("verbose", func() error {
		v, err := flags.GetBool("verbose")
		if v {
			cfg.LogLevel = "debug"
		}
		return err
	})
	return errors.Join(errs...)
}

func validate(cfg *Config) error {
	switch cfg.Output {
	case dispatch.FormatText, dispatch.FormatJSON:
	default:
		return fmt.Errorf("unknown output format %q (want text or json)", cfg.Output)
	}
	s := cfg.Session
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", s.Width, s.Height)
	}
	for name, d := range map[string]time.Duration{
		"timeout":        s.CallTimeout,
		"launch-timeout": s.LaunchTimeout,
		"nav-timeout":    s.NavTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}
