// Package logline converts between artifact lines and messages.
//
// A line is "<YYYY-MM-DD HH:MM:SS> <content>", where content may end with
// "; serverTimestamp: <YYYY-MM-DD HH:MM:SS>" carrying the reference clock
// sample taken when the line was written.
package logline

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tinytelemetry/tracevault/internal/faults"
	"github.com/tinytelemetry/tracevault/internal/model"
)

const referenceMarker = "serverTimestamp:"

var newlineReplacer = strings.NewReplacer("\r", " ", "\n", " ")

var suffixRE = regexp.MustCompile(`^(.*?)(?:\s*;\s*serverTimestamp:\s*(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}))?$`)

// Parse converts one line into a Message. ok is false for lines with fewer
// than three space-separated tokens; such lines are skipped, not rejected.
func Parse(line string) (msg model.Message, ok bool, err error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 {
		return model.Message{}, false, nil
	}

	deviceTime, err := time.Parse(model.TimeLayout, parts[0]+" "+parts[1])
	if err != nil {
		return model.Message{}, false, faults.Validation("parse", faults.ErrMalformedTimestamp, fmt.Sprintf("%q", parts[0]+" "+parts[1]))
	}

	msg = model.Message{DeviceTime: deviceTime}
	m := suffixRE.FindStringSubmatch(parts[2])
	if m == nil {
		msg.Content = strings.TrimSpace(parts[2])
		return msg, true, nil
	}
	msg.Content = strings.TrimSpace(m[1])
	if m[2] != "" {
		ref, perr := time.Parse(model.TimeLayout, m[2])
		if perr != nil {
			return model.Message{}, false, faults.Validation("parse", faults.ErrMalformedTimestamp, fmt.Sprintf("reference %q", m[2]))
		}
		msg.ReferenceTime = &ref
	}
	return msg, true, nil
}

// ParseAll parses every line of an artifact. It fails on the first malformed
// timestamp and when no line yields a message.
func ParseAll(lines []string) ([]model.Message, error) {
	msgs := make([]model.Message, 0, len(lines))
	for i, line := range lines {
		msg, ok, err := Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if ok {
			msgs = append(msgs, msg)
		}
	}
	if len(msgs) == 0 {
		return nil, faults.Validation("parse", faults.ErrNoValidMessages, "")
	}
	return msgs, nil
}

// Split breaks artifact content into lines, dropping the terminator of the
// last line.
func Split(content string) []string {
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

// Format renders a message back into line form, without a trailing newline.
func Format(m model.Message) string {
	var b strings.Builder
	b.WriteString(m.DeviceTime.Format(model.TimeLayout))
	b.WriteByte(' ')
	b.WriteString(m.Content)
	if m.ReferenceTime != nil {
		b.WriteString("; ")
		b.WriteString(referenceMarker)
		b.WriteByte(' ')
		b.WriteString(m.ReferenceTime.Format(model.TimeLayout))
	}
	return b.String()
}

// Stamp builds the line an agent appends for content observed at deviceTime.
// A nil reference omits the suffix.
func Stamp(deviceTime time.Time, content string, reference *time.Time) string {
	return Format(model.Message{
		Content:       strings.TrimSpace(newlineReplacer.Replace(content)),
		DeviceTime:    deviceTime.Truncate(time.Second),
		ReferenceTime: reference,
	})
}

// FormatAll renders messages as canonical artifact text.
func FormatAll(msgs []model.Message) []string {
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = Format(m)
	}
	return lines
}
