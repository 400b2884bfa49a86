package dispatch

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/tomyan/browsercli/internal/fault"
)

// Output formats accepted by Render.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Report is the outcome of one command.
type Report struct {
	OK        bool       `json:"ok"`
	Command   string     `json:"command,omitempty"`
	Kind      fault.Kind `json:"kind,omitempty"`
	Message   string     `json:"message,omitempty"`
	Data      any        `json:"data,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
}

// Ends reports whether the command ends an interactive loop.
func (r Report) Ends() bool {
	return r.Command == Close.String() || r.Command == Exit.String()
}

// Err returns the failure as an error, or nil for a success.
func (r Report) Err() error {
	if r.OK {
		return nil
	}
	return &fault.Error{Kind: r.Kind, Message: r.Message}
}

func failure(command string, err error) Report {
	kind := fault.KindOf(err)
	return Report{
		Command: command,
		Kind:    kind,
		Message: strings.TrimPrefix(err.Error(), string(kind)+": "),
	}
}

var (
	errColor  = color.New(color.FgRed)
	kindColor = color.New(color.FgRed, color.Bold)
)

// Render writes r in the given format. JSON reports are one line each.
func (r Report) Render(w io.Writer, format string) error {
	switch format {
	case FormatJSON:
		return json.NewEncoder(w).Encode(r)
	case FormatText, "":
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	if !r.OK {
		_, err := fmt.Fprintf(w, "%s %s\n", kindColor.Sprintf("error: %s:", r.Kind), errColor.Sprint(r.Message))
		return err
	}

	text, err := textValue(r.Data)
	if err != nil {
		return err
	}
	if text == "" {
		text = "ok"
	}
	_, err = fmt.Fprintln(w, text)
	return err
}

func textValue(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case float64, bool:
		return fmt.Sprint(v), nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(b), nil
}
