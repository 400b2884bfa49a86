package dispatch

import (
	"strings"

	"github.com/tomyan/browsercli/internal/fault"
)

// Tokenize splits a command line into arguments. Single and double quotes
// group text, and a backslash escapes the next character outside single
// quotes. An empty quoted string is kept as an empty argument.
func Tokenize(line string) ([]string, error) {
	words, err := lex(line)
	if err != nil {
		return nil, err
	}
	var args []string
	for _, w := range words {
		args = append(args, w.text)
	}
	return args, nil
}

// word is one argument of a command line. A literal word began inside
// quotes or with an escape, so it is never read as a --name argument.
type word struct {
	text    string
	literal bool
}

func plain(args []string) []word {
	words := make([]word, len(args))
	for i, a := range args {
		words[i] = word{text: a}
	}
	return words
}

func lex(line string) ([]word, error) {
	var (
		words   []word
		current strings.Builder
		inArg   bool
		literal bool
		quote   rune
		escaped bool
	)

	for _, c := range line {
		switch {
		case escaped:
			current.WriteRune(c)
			escaped = false
		case c == '\\' && quote != '\'':
			if !inArg {
				literal = true
			}
			escaped, inArg = true, true
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				current.WriteRune(c)
			}
		case c == '"' || c == '\'':
			if !inArg {
				literal = true
			}
			quote, inArg = c, true
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			if inArg {
				words = append(words, word{text: current.String(), literal: literal})
				current.Reset()
				inArg, literal = false, false
			}
		default:
			current.WriteRune(c)
			inArg = true
		}
	}

	if quote != 0 {
		return nil, fault.New(fault.InvalidArgument, "unterminated %c quote", quote)
	}
	if escaped {
		return nil, fault.New(fault.InvalidArgument, "trailing backslash")
	}
	if inArg {
		words = append(words, word{text: current.String(), literal: literal})
	}
	return words, nil
}

// Quote joins args into a line that Tokenize splits back into args.
func Quote(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = quoteArg(a)
	}
	return strings.Join(quoted, " ")
}

func quoteArg(a string) string {
	if a == "" {
		return `""`
	}
	if !strings.ContainsAny(a, " \t\r\n\"'\\") {
		return a
	}
	if !strings.Contains(a, "'") {
		return "'" + a + "'"
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(a) + `"`
}
