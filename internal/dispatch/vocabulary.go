package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tomyan/browsercli/internal/fault"
)

// Kind is one operation of the command vocabulary.
type Kind int

const (
	Navigate Kind = iota + 1
	Click
	ClickAt
	DoubleClickAt
	RightClickAt
	Type
	Scroll
	Screenshot
	Text
	Search
	Eval
	Close
	Help
	Exit
	Start
	URL
	Title
	Reload
	Back
	Forward
	WaitFor
	WaitForText
	WaitForNav
	Highlight
	Fill
	Submit
	Elements
	Status
	Info
	Cookies
	SetCookie
	ClearCookies
	Storage
	Ticker
)

// CommandInfo describes one operation.
type CommandInfo struct {
	Kind     Kind
	Name     string
	Aliases  []string
	Category string
	Usage    string
	Desc     string

	// MinArgs and MaxArgs bound the positional arguments; MaxArgs < 0 means
	// the trailing arguments are joined with spaces into the last one.
	MinArgs int
	MaxArgs int
	// Flags lists the named arguments the operation accepts.
	Flags []string
}

var vocabulary = []CommandInfo{
	{Kind: Start, Name: "start", Category: "Session", Usage: "start", Desc: "Launch the browser now"},
	{Kind: Status, Name: "status", Category: "Session", Usage: "status", Desc: "Show the session and browser state"},
	{Kind: Close, Name: "close", Category: "Session", Usage: "close", Desc: "Close the browser and end the session"},
	{Kind: Exit, Name: "exit", Aliases: []string{"quit", "q"}, Category: "Session", Usage: "exit", Desc: "Close the browser and leave"},
	{Kind: Help, Name: "help", Aliases: []string{"h", "?"}, Category: "Session", Usage: "help [command]", Desc: "List commands", MaxArgs: 1},

	{Kind: Navigate, Name: "navigate", Aliases: []string{"go", "goto", "open"}, Category: "Navigate", Usage: "navigate <url> [--wait=load]", Desc: "Load a URL", MinArgs: 1, MaxArgs: 1, Flags: []string{"wait"}},
	{Kind: Reload, Name: "reload", Aliases: []string{"refresh"}, Category: "Navigate", Usage: "reload", Desc: "Reload the page"},
	{Kind: Back, Name: "back", Category: "Navigate", Usage: "back", Desc: "Go back in history"},
	{Kind: Forward, Name: "forward", Category: "Navigate", Usage: "forward", Desc: "Go forward in history"},

	{Kind: URL, Name: "url", Category: "Read page", Usage: "url", Desc: "Print the current URL"},
	{Kind: Title, Name: "title", Category: "Read page", Usage: "title", Desc: "Print the page title"},
	{Kind: Text, Name: "text", Category: "Read page", Usage: "text [selector]", Desc: "Print an element's text", MaxArgs: 1},
	{Kind: Info, Name: "info", Aliases: []string{"summary"}, Category: "Read page", Usage: "info", Desc: "Show the title, URL and element counts"},
	{Kind: Elements, Name: "elements", Category: "Read page", Usage: "elements", Desc: "List visible inputs, buttons and links"},
	{Kind: Eval, Name: "js", Aliases: []string{"eval", "evaluate"}, Category: "Read page", Usage: "js <script>", Desc: "Evaluate JavaScript in the page", MinArgs: 1, MaxArgs: -1},

	{Kind: Click, Name: "click", Category: "Interact", Usage: "click <selector>", Desc: "Click an element", MinArgs: 1, MaxArgs: 1},
	{Kind: ClickAt, Name: "click-at", Aliases: []string{"clickat"}, Category: "Interact", Usage: "click-at <x> <y>", Desc: "Click at viewport coordinates", MinArgs: 2, MaxArgs: 2},
	{Kind: DoubleClickAt, Name: "double-click-at", Aliases: []string{"doubleclickat", "dblclick"}, Category: "Interact", Usage: "double-click-at <x> <y>", Desc: "Double-click at viewport coordinates", MinArgs: 2, MaxArgs: 2},
	{Kind: RightClickAt, Name: "right-click-at", Aliases: []string{"rightclickat"}, Category: "Interact", Usage: "right-click-at <x> <y>", Desc: "Right-click at viewport coordinates", MinArgs: 2, MaxArgs: 2},
	{Kind: Type, Name: "type", Category: "Interact", Usage: "type <selector> <text>", Desc: "Type text into an element", MinArgs: 2, MaxArgs: -1},
	{Kind: Fill, Name: "fill", Category: "Interact", Usage: "fill <selector> <value>", Desc: "Set a form field's value", MinArgs: 2, MaxArgs: 2},
	{Kind: Submit, Name: "submit", Category: "Interact", Usage: "submit [selector]", Desc: "Submit a form", MaxArgs: 1},
	{Kind: Search, Name: "search", Category: "Interact", Usage: "search <query>", Desc: "Type into the page's search box and press Enter", MinArgs: 1, MaxArgs: -1},
	{Kind: Highlight, Name: "highlight", Category: "Interact", Usage: "highlight <selector>", Desc: "Outline an element", MinArgs: 1, MaxArgs: 1},
	{Kind: Scroll, Name: "scroll", Category: "Interact", Usage: "scroll [up|down|top|bottom] [pixels]", Desc: "Scroll the page", MaxArgs: 2},

	{Kind: WaitFor, Name: "wait-for", Aliases: []string{"waitfor"}, Category: "Wait", Usage: "wait-for <selector> [--timeout=10s]", Desc: "Wait for an element", MinArgs: 1, MaxArgs: 1, Flags: []string{"timeout"}},
	{Kind: WaitForText, Name: "wait-for-text", Aliases: []string{"waitfortext"}, Category: "Wait", Usage: "wait-for-text <text> [--timeout=10s]", Desc: "Wait for text to appear", MinArgs: 1, MaxArgs: -1, Flags: []string{"timeout"}},
	{Kind: Ticker, Name: "ticker", Aliases: []string{"watch"}, Category: "Wait", Usage: "ticker [selector] [--interval=2s] [--max=10]", Desc: "Sample the page or an element and report changes", MaxArgs: 1, Flags: []string{"interval", "max"}},
	{Kind: WaitForNav, Name: "wait-for-nav", Aliases: []string{"waitfornav"}, Category: "Wait", Usage: "wait-for-nav [--timeout=30s]", Desc: "Wait for the page to finish loading", Flags: []string{"timeout"}},

	{Kind: Screenshot, Name: "screenshot", Aliases: []string{"ss"}, Category: "Capture", Usage: "screenshot [file] [--full]", Desc: "Save a PNG screenshot", MaxArgs: 1, Flags: []string{"full"}},

	{Kind: Cookies, Name: "cookies", Category: "Storage", Usage: "cookies", Desc: "List the cookies of the page"},
	{Kind: SetCookie, Name: "set-cookie", Aliases: []string{"setcookie"}, Category: "Storage", Usage: "set-cookie <name> <value> [--domain=host]", Desc: "Set a cookie for the page or a domain", MinArgs: 2, MaxArgs: -1, Flags: []string{"domain"}},
	{Kind: ClearCookies, Name: "clear-cookies", Aliases: []string{"clearcookies"}, Category: "Storage", Usage: "clear-cookies", Desc: "Delete every cookie"},
	{Kind: Storage, Name: "storage", Category: "Storage", Usage: "storage [local|session]", Desc: "List web storage entries", MaxArgs: 1},
}

var (
	byKind = map[Kind]*CommandInfo{}
	byName = map[string]*CommandInfo{}
)

func init() {
	for i := range vocabulary {
		info := &vocabulary[i]
		byKind[info.Kind] = info
		byName[info.Name] = info
		for _, alias := range info.Aliases {
			byName[alias] = info
		}
	}
}

// Lookup resolves a command name or alias.
func Lookup(name string) (CommandInfo, bool) {
	info, ok := byName[strings.ToLower(name)]
	if !ok {
		return CommandInfo{}, false
	}
	return *info, true
}

func (k Kind) String() string {
	if info, ok := byKind[k]; ok {
		return info.Name
	}
	return "unknown"
}

// Names returns every canonical command name, sorted.
func Names() []string {
	names := make([]string, 0, len(vocabulary))
	for _, info := range vocabulary {
		names = append(names, info.Name)
	}
	sort.Strings(names)
	return names
}

// categoryOrder defines the display order for command categories.
var categoryOrder = []string{
	"Navigate",
	"Read page",
	"Interact",
	"Wait",
	"Capture",
	"Storage",
	"Session",
}

// HelpGroup is one category of the help listing.
type HelpGroup struct {
	Category string        `json:"category"`
	Commands []CommandHelp `json:"commands"`
}

// CommandHelp is one line of the help listing.
type CommandHelp struct {
	Usage   string   `json:"usage"`
	Desc    string   `json:"desc"`
	Aliases []string `json:"aliases,omitempty"`
}

// HelpText is the help listing grouped by category.
type HelpText []HelpGroup

func helpGroups() HelpText {
	grouped := make(map[string][]CommandInfo)
	for _, info := range vocabulary {
		grouped[info.Category] = append(grouped[info.Category], info)
	}

	var groups HelpText
	for _, cat := range categoryOrder {
		infos := grouped[cat]
		if len(infos) == 0 {
			continue
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
		g := HelpGroup{Category: cat}
		for _, info := range infos {
			g.Commands = append(g.Commands, CommandHelp{Usage: info.Usage, Desc: info.Desc, Aliases: info.Aliases})
		}
		groups = append(groups, g)
	}
	return groups
}

func (h HelpText) String() string {
	var sb strings.Builder
	for i, g := range h {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(g.Category)
		sb.WriteString(":\n")
		for _, c := range g.Commands {
			line := "  " + c.Usage
			if len(line) < 40 {
				line += strings.Repeat(" ", 40-len(line))
			} else {
				line += "  "
			}
			line += c.Desc
			if len(c.Aliases) > 0 {
				line += " (" + strings.Join(c.Aliases, ", ") + ")"
			}
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// commandHelp is the help for a single command.
type commandHelp CommandHelp

func (c commandHelp) String() string {
	s := "usage: " + c.Usage + "\n  " + c.Desc
	if len(c.Aliases) > 0 {
		s += "\n  aliases: " + strings.Join(c.Aliases, ", ")
	}
	return s
}

// Describe returns the help for one command, or every command when name is empty.
func Describe(name string) (fmt.Stringer, error) {
	if name == "" {
		return helpGroups(), nil
	}
	info, ok := Lookup(name)
	if !ok {
		return nil, fault.New(fault.UnknownCommand, "unknown command %q", name)
	}
	return commandHelp{Usage: info.Usage, Desc: info.Desc, Aliases: info.Aliases}, nil
}
