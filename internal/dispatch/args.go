package dispatch

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tomyan/browsercli/internal/fault"
)

// Command is one parsed, validated input line.
type Command struct {
	Info  CommandInfo
	Args  []string
	Named map[string]string
}

// Parse resolves args[0] against the vocabulary and validates the rest.
// Named arguments are written --name=value or --name; a bare -- ends them.
func Parse(args []string) (Command, error) {
	return parse(plain(args))
}

// parse is Parse for a tokenized line, where a quoted "--text" is a
// positional argument.
func parse(words []word) (Command, error) {
	if len(words) == 0 {
		return Command{}, fault.New(fault.InvalidArgument, "empty command")
	}
	info, ok := Lookup(words[0].text)
	if !ok {
		return Command{}, fault.New(fault.UnknownCommand, "unknown command %q (try help)", words[0].text)
	}

	cmd := Command{Info: info, Named: map[string]string{}}
	named := true
	for _, w := range words[1:] {
		a := w.text
		if named && !w.literal && a == "--" {
			named = false
			continue
		}
		if named && !w.literal && strings.HasPrefix(a, "--") {
			name, value, hasValue := strings.Cut(a[2:], "=")
			if !hasValue {
				value = "true"
			}
			if !accepts(info, name) {
				return Command{}, fault.New(fault.InvalidArgument, "%s does not take --%s (usage: %s)", info.Name, name, info.Usage)
			}
			cmd.Named[name] = value
			continue
		}
		cmd.Args = append(cmd.Args, a)
	}

	n := len(cmd.Args)
	if n < info.MinArgs || (info.MaxArgs >= 0 && n > info.MaxArgs) {
		return Command{}, fault.New(fault.InvalidArgument, "%s takes %s, got %d (usage: %s)", info.Name, arity(info), n, info.Usage)
	}
	if info.MaxArgs < 0 && n > info.MinArgs {
		rest := strings.Join(cmd.Args[info.MinArgs-1:], " ")
		cmd.Args = append(cmd.Args[:info.MinArgs-1], rest)
	}
	return cmd, nil
}

func accepts(info CommandInfo, name string) bool {
	for _, f := range info.Flags {
		if f == name {
			return true
		}
	}
	return false
}

func arity(info CommandInfo) string {
	switch {
	case info.MaxArgs < 0:
		return "at least " + plural(info.MinArgs)
	case info.MinArgs == info.MaxArgs:
		return plural(info.MinArgs)
	default:
		return strconv.Itoa(info.MinArgs) + " to " + plural(info.MaxArgs)
	}
}

func plural(n int) string {
	if n == 1 {
		return "1 argument"
	}
	return strconv.Itoa(n) + " arguments"
}

// Arg returns the i'th positional argument, or "".
func (c Command) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// Float parses the i'th positional argument as a finite number.
func (c Command) Float(i int, name string) (float64, error) {
	v, err := strconv.ParseFloat(c.Arg(i), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fault.New(fault.InvalidArgument, "%s must be a number, got %q", name, c.Arg(i))
	}
	return v, nil
}

// Bool reads a named boolean argument.
func (c Command) Bool(name string) (bool, error) {
	v, ok := c.Named[name]
	if !ok {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fault.New(fault.InvalidArgument, "--%s must be true or false, got %q", name, v)
	}
	return b, nil
}

// Duration reads a named duration argument; zero means unset.
func (c Command) Duration(name string) (time.Duration, error) {
	v, ok := c.Named[name]
	if !ok {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fault.New(fault.InvalidArgument, "--%s must be a positive duration such as 5s, got %q", name, v)
	}
	return d, nil
}

// Count reads a named positive whole number, or returns fallback when unset.
func (c Command) Count(name string, fallback int) (int, error) {
	v, ok := c.Named[name]
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fault.New(fault.InvalidArgument, "--%s must be a positive whole number, got %q", name, v)
	}
	return n, nil
}
