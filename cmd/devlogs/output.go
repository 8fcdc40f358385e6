package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/dandriscoll/devlogs/internal/levels"
	"github.com/dandriscoll/devlogs/internal/repository"
)

// Exit codes.
const (
	exitFailure     = 1
	exitInterrupted = 130
)

var (
	colorError   = lipgloss.Color("#E74C3C")
	colorWarning = lipgloss.Color("#F4D03F")
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorMuted   = lipgloss.Color("#6C7A89")

	styleError   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleWarning = lipgloss.NewStyle().Foreground(colorWarning)
	styleSuccess = lipgloss.NewStyle().Foreground(colorSuccess)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
	styleBold    = lipgloss.NewStyle().Bold(true)
)

// errInterrupted ends follow loops on SIGINT/SIGTERM.
var errInterrupted = errors.New("interrupted")

// reportError prints err with a hint where one helps and returns the
// process exit code.
func reportError(w io.Writer, err error) int {
	if errors.Is(err, errInterrupted) {
		return exitInterrupted
	}
	fmt.Fprintln(w, styleError.Render("Error:")+" "+err.Error())
	if hint := hintFor(err); hint != "" {
		fmt.Fprintln(w, styleMuted.Render(hint))
	}
	return exitFailure
}

func hintFor(err error) string {
	switch {
	case repository.IsIndexNotFound(err):
		return "The index does not exist yet. Run `devlogs init` to create it."
	case repository.IsConnectionError(err):
		return "Check DEVLOGS_OPENSEARCH_URL (or _HOST/_PORT) and that OpenSearch is running."
	case repository.IsAuthError(err):
		return "Check DEVLOGS_OPENSEARCH_USER and DEVLOGS_OPENSEARCH_PASS."
	}
	return ""
}

// lineFormatter renders entries as single output lines:
//
//	<timestamp> <level> <area> <operation_id> [k=v ...] <message>
type lineFormatter struct {
	utc   bool
	color bool
	loc   *time.Location
}

func newLineFormatter(utc, color bool) *lineFormatter {
	return &lineFormatter{utc: utc, color: color, loc: time.Local}
}

const displayTimeLayout = "2006-01-02 15:04:05.000"

func (f *lineFormatter) Format(e domain.Entry) string {
	parts := []string{
		f.timestamp(e.Timestamp),
		f.level(e.Level),
		orDash(e.Area),
		orDash(e.OperationID),
	}
	if feats := formatFeatures(e.Features); feats != "" {
		parts = append(parts, feats)
	}
	parts = append(parts, e.Message)
	line := strings.Join(parts, " ")
	if e.Exception != "" {
		exc := indent(strings.TrimRight(e.Exception, "\n"), "    ")
		if f.color {
			exc = styleMuted.Render(exc)
		}
		line += "\n" + exc
	}
	return line
}

func (f *lineFormatter) timestamp(raw string) string {
	t, ok := domain.ParseTime(raw)
	if !ok {
		return raw
	}
	if f.utc {
		return t.UTC().Format(displayTimeLayout) + "Z"
	}
	return t.In(f.loc).Format(displayTimeLayout)
}

func (f *lineFormatter) level(raw string) string {
	label := strings.ToUpper(raw)
	if label == "" {
		label = "-"
	}
	label = fmt.Sprintf("%-8s", label)
	if !f.color {
		return label
	}
	lvl, _ := levels.Normalize(raw)
	switch {
	case lvl.IsError():
		return styleError.Render(label)
	case lvl == levels.Warning:
		return styleWarning.Render(label)
	case lvl == levels.Debug:
		return styleMuted.Render(label)
	}
	return label
}

// formatFeatures renders features as k=v pairs sorted by key.
func formatFeatures(features map[string]any) string {
	if len(features) == 0 {
		return ""
	}
	keys := make([]string, 0, len(features))
	for k := range features {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=%v", k, features[k])
	}
	return "[" + strings.Join(pairs, " ") + "]"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func success(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styleSuccess.Render("✓")+" "+fmt.Sprintf(format, args...))
}

func warn(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styleWarning.Render("⚠")+" "+fmt.Sprintf(format, args...))
}
