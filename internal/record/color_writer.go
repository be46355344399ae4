// Writer implementation printing colored rows to a terminal
package record

import (
	"fmt"
	"io"
	"os"
	"time"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
)

// ColorWriter prints rows with ANSI colors.
type ColorWriter struct {
	out io.Writer
}

// NewColorWriter creates a ColorWriter writing to os.Stdout.
func NewColorWriter() *ColorWriter {
	return &ColorWriter{out: os.Stdout}
}

// actionColor maps a controller action to a color.
func actionColor(action string) string {
	switch action {
	case "close":
		return colorGreen
	case "hold":
		return colorYellow
	case "open":
		return colorRed
	case "reboot":
		return colorMagenta
	}
	return colorGray
}

func tokens(list []int) string {
	b := make([]byte, 0, len(list))
	for _, t := range list {
		if t == 1 {
			b = append(b, '1')
		} else {
			b = append(b, '0')
		}
	}
	return string(b)
}

// FormatSafety renders a safety row as one colored line.
func FormatSafety(row SafetyRow) string {
	line := fmt.Sprintf("%s[%s]%s %snode=%s%s %s%-6s%s score=%d relay=%s steer=%.2f thr=%.2f %swd=%s%s",
		colorGray, row.Timestamp.Format(time.RFC3339Nano), colorReset,
		colorBlue, row.Node, colorReset,
		actionColor(row.Action), row.Action, colorReset,
		row.Score, row.Relay, row.Steering, row.Throttle,
		colorCyan, tokens(row.Watchdog), colorReset,
	)
	if !row.Configured {
		line += fmt.Sprintf(" %sunconfigured%s", colorRed, colorReset)
	}
	if row.Error != "" {
		line += fmt.Sprintf(" %serr=%s%s", colorRed, row.Error, colorReset)
	}
	return line
}

// FormatLinkEvent renders a link event as one colored line.
func FormatLinkEvent(e LinkEventRow) string {
	c := colorGreen
	if e.Event == LinkDown {
		c = colorRed
	}
	return fmt.Sprintf("%s[%s]%s %sLINK%s %s %s%s%s teardowns=%d",
		colorGray, e.Timestamp.Format(time.RFC3339Nano), colorReset,
		colorMagenta, colorReset, e.Role, c, e.Event, colorReset, e.Teardowns)
}

// Write prints a safety row.
func (w *ColorWriter) Write(row SafetyRow) error {
	_, err := fmt.Fprintln(w.out, FormatSafety(row))
	return err
}

// WriteLinkEvent prints a link event.
func (w *ColorWriter) WriteLinkEvent(e LinkEventRow) error {
	_, err := fmt.Fprintln(w.out, FormatLinkEvent(e))
	return err
}
