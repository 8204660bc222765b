package classify

import (
	"strings"

	"github.com/tinytelemetry/tracevault/internal/model"
)

// Match returns the index of the first rule whose keyword occurs in content,
// ignoring case, or -1.
func (t Table) Match(content string) int {
	folded := strings.ToLower(content)
	for i, kw := range t.folded {
		if strings.Contains(folded, kw) {
			return i
		}
	}
	return -1
}

// Classify returns the rule that labels content in category.
func (rs *RuleSet) Classify(category, content string) (model.EventRule, bool) {
	t, ok := rs.Table(category)
	if !ok {
		return model.EventRule{}, false
	}
	i := t.Match(content)
	if i < 0 {
		return model.EventRule{}, false
	}
	return t.Rules[i], true
}

// Events groups msgs under the rules of category. Each message counts for
// the first rule it matches. Rows keep table order, matches within a row keep
// chronological order, and rules with no match are left out.
func (rs *RuleSet) Events(category string, msgs []model.Message) []model.ClassifiedEvent {
	t, ok := rs.Table(category)
	if !ok || len(msgs) == 0 {
		return nil
	}
	sorted := append([]model.Message(nil), msgs...)
	model.SortMessages(sorted)

	rows := make([]model.ClassifiedEvent, len(t.Rules))
	for _, m := range sorted {
		i := t.Match(m.Content)
		if i < 0 {
			continue
		}
		rows[i].Matches = append(rows[i].Matches, m.Content)
		rows[i].Occurrences = append(rows[i].Occurrences, m.DeviceTime)
	}

	var out []model.ClassifiedEvent
	for i, row := range rows {
		if len(row.Matches) == 0 {
			continue
		}
		row.Label = t.Rules[i].Label
		row.Keyword = t.Rules[i].Keyword
		out = append(out, row)
	}
	return out
}
