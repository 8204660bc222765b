package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/tracevault/internal/model"
)

// wrapWidth is the column at which message text is broken in tables.
const wrapWidth = 65

// Renderer writes a report in one document format.
type Renderer interface {
	Render(w io.Writer, r *Report) error
	Ext() string
}

// NewRenderer returns the renderer for format: "text" or "yaml".
func NewRenderer(format string) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text", "txt":
		return TextRenderer{}, nil
	case "yaml", "yml":
		return YAMLRenderer{}, nil
	default:
		return nil, fmt.Errorf("report: unknown format %q", format)
	}
}

// ---------------------------------------------------------------------------
// Text renderer
// ---------------------------------------------------------------------------

var categoryColors = map[string]lipgloss.Color{
	"AntiForensicLog": lipgloss.Color("#FFC8F5"),
	"CallingLog":      lipgloss.Color("#6799FF"),
	"BluetoothLog":    lipgloss.Color("#86E57F"),
	"MessageLog":      lipgloss.Color("#FAED7D"),
	"FileLog":         lipgloss.Color("#99FFCC"),
	"AppExecutionLog": lipgloss.Color("#EF8B47"),
}

// TextRenderer draws the report as bordered tables. Colors are only emitted
// when w is a terminal.
type TextRenderer struct{}

func (TextRenderer) Ext() string { return "txt" }

func (TextRenderer) Render(w io.Writer, r *Report) error {
	re := lipgloss.NewRenderer(w)
	title := re.NewStyle().Bold(true)
	warn := re.NewStyle().Foreground(lipgloss.Color("220"))
	ok := re.NewStyle().Foreground(lipgloss.Color("42"))

	var b strings.Builder
	b.WriteString(title.Render("Device Log Report: "+r.DeviceID) + "\n")
	fmt.Fprintf(&b, "Duration: %s ~ %s\n\n", r.Start.Format(model.TimeLayout), r.End.Format(model.TimeLayout))

	for _, line := range r.Hash.Narrative {
		style := ok
		if strings.HasPrefix(line, "[Warning]") {
			style = warn
		}
		b.WriteString(style.Render(line) + "\n")
	}

	if r.Hash.Verified {
		for _, sec := range r.Categories {
			b.WriteString("\n" + title.Render(sec.Category) + "\n")
			b.WriteString(eventTable(re, sec).String() + "\n")
		}
		b.WriteString("\n" + title.Render("Reconstructing Timeline") + "\n")
		b.WriteString(timelineTable(re, r.Timeline).String() + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func eventTable(re *lipgloss.Renderer, sec CategorySection) *table.Table {
	header := re.NewStyle().Bold(true).Padding(0, 1)
	cell := re.NewStyle().Padding(0, 1)
	label := cell.Foreground(categoryColors[sec.Category])

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(re.NewStyle()).
		Headers("Event Type", "Details", "Occurrence").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return header
			case col == 0:
				return label
			default:
				return cell
			}
		})
	for _, ev := range sec.Events {
		for i, content := range ev.Matches {
			t.Row(ev.Label, wrap(content, wrapWidth), ev.Occurrences[i].Format(model.TimeLayout))
		}
	}
	return t
}

func timelineTable(re *lipgloss.Renderer, entries []model.TimelineEntry) *table.Table {
	header := re.NewStyle().Bold(true).Padding(0, 1)
	cell := re.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(re.NewStyle()).
		Headers("Device Timestamp", "Message", "Estimated Time Value").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	for _, e := range entries {
		device := e.DeviceTime.Format(model.TimeLayout)
		t.Row(device, wrap(e.Content, wrapWidth), device+" -> "+e.Estimated.String())
	}
	return t
}

// wrap breaks s every n runes.
func wrap(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(runes); i += n {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(runes[i:min(i+n, len(runes))]))
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// YAML renderer
// ---------------------------------------------------------------------------

// Document is the flattened, string-typed form of a report shared by the
// YAML renderer and the HTTP API.
type Document struct {
	DeviceID    string         `yaml:"device_id" json:"device_id"`
	Start       string         `yaml:"start" json:"start"`
	End         string         `yaml:"end" json:"end"`
	GeneratedAt string         `yaml:"generated_at" json:"generated_at"`
	Bundles     int            `yaml:"bundles" json:"bundles"`
	Verified    bool           `yaml:"verified" json:"verified"`
	Narrative   []string       `yaml:"narrative" json:"narrative"`
	Groups      []DocGroup     `yaml:"groups,omitempty" json:"groups,omitempty"`
	Categories  []DocCategory  `yaml:"categories,omitempty" json:"categories,omitempty"`
	Timeline    []DocTimeEntry `yaml:"timeline,omitempty" json:"timeline,omitempty"`
}

type DocGroup struct {
	Digest  string `yaml:"digest" json:"digest"`
	Bundles int    `yaml:"bundles" json:"bundles"`
	Found   string `yaml:"found" json:"found"`
	Valid   bool   `yaml:"valid" json:"valid"`
}

type DocCategory struct {
	Name   string     `yaml:"name" json:"name"`
	Events []DocEvent `yaml:"events" json:"events"`
}

type DocEvent struct {
	Label       string   `yaml:"label" json:"label"`
	Keyword     string   `yaml:"keyword" json:"keyword"`
	Matches     []string `yaml:"matches" json:"matches"`
	Occurrences []string `yaml:"occurrences" json:"occurrences"`
}

type DocTimeEntry struct {
	DeviceTime string `yaml:"device_time" json:"device_time"`
	Category   string `yaml:"category" json:"category"`
	Message    string `yaml:"message" json:"message"`
	Estimated  string `yaml:"estimated" json:"estimated"`
}

// NewDocument flattens r.
func NewDocument(r *Report) Document {
	doc := Document{
		DeviceID:    r.DeviceID,
		Start:       r.Start.Format(model.TimeLayout),
		End:         r.End.Format(model.TimeLayout),
		GeneratedAt: r.GeneratedAt.Format(model.TimeLayout),
		Bundles:     r.Bundles,
		Verified:    r.Hash.Verified,
		Narrative:   r.Hash.Narrative,
	}
	for _, g := range r.Hash.Groups {
		doc.Groups = append(doc.Groups, DocGroup{Digest: g.Digest, Bundles: g.Bundles, Found: g.Found, Valid: g.Valid})
	}
	for _, sec := range r.Categories {
		c := DocCategory{Name: sec.Category}
		for _, ev := range sec.Events {
			e := DocEvent{Label: ev.Label, Keyword: ev.Keyword, Matches: ev.Matches}
			for _, at := range ev.Occurrences {
				e.Occurrences = append(e.Occurrences, at.Format(model.TimeLayout))
			}
			c.Events = append(c.Events, e)
		}
		doc.Categories = append(doc.Categories, c)
	}
	for _, e := range r.Timeline {
		doc.Timeline = append(doc.Timeline, DocTimeEntry{
			DeviceTime: e.DeviceTime.Format(model.TimeLayout),
			Category:   e.Category,
			Message:    e.Content,
			Estimated:  e.Estimated.String(),
		})
	}
	return doc
}

// YAMLRenderer writes the report as a YAML document for machine consumers.
type YAMLRenderer struct{}

func (YAMLRenderer) Ext() string { return "yaml" }

func (YAMLRenderer) Render(w io.Writer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewDocument(r)); err != nil {
		return fmt.Errorf("report: encode yaml: %w", err)
	}
	return enc.Close()
}
