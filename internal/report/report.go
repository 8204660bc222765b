// Package report assembles the incident report for one device and time
// window: hash re-verification first, then per-category event tables and
// the merged timeline.
package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/tracevault/internal/classify"
	"github.com/tinytelemetry/tracevault/internal/correlate"
	"github.com/tinytelemetry/tracevault/internal/digest"
	"github.com/tinytelemetry/tracevault/internal/faults"
	"github.com/tinytelemetry/tracevault/internal/ingest"
	"github.com/tinytelemetry/tracevault/internal/metrics"
	"github.com/tinytelemetry/tracevault/internal/model"
)

const (
	successNarrative  = "[Success] Hash integrity verification completed. All logs have valid hash values."
	failureNarrative  = "[Warning] Hash integrity issue, log analysis cannot proceed."
	mismatchNarrative = "[Warning] Hash mismatch! Expected: %s, Found: %s"
)

var errInvalidWindow = errors.New("window end precedes start")

// GroupCheck is the re-verification result for all bundles sharing one
// stored digest.
type GroupCheck struct {
	Digest  string
	Bundles int
	Found   string
	Valid   bool
}

// HashValidation summarizes re-verification of every bundle in the window.
type HashValidation struct {
	Verified  bool
	Groups    []GroupCheck
	Narrative []string
}

// CategorySection holds the classified events of one category.
type CategorySection struct {
	Category string
	Events   []model.ClassifiedEvent
}

// Report is the assembled report. Categories and Timeline are empty when
// Hash.Verified is false.
type Report struct {
	DeviceID    string
	Start       time.Time
	End         time.Time
	GeneratedAt time.Time
	Bundles     int
	Hash        HashValidation
	Categories  []CategorySection
	Timeline    []model.TimelineEntry
}

// Sink receives finished reports and returns where it put them.
type Sink interface {
	Deliver(ctx context.Context, r *Report) (string, error)
}

// Assembler builds reports from stored bundles.
type Assembler struct {
	store             model.BundleReader
	rules             *classify.RuleSet
	sink              Sink
	reconstructionDir string
	now               func() time.Time
	logger            zerolog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithSink sets the sink used by Generate.
func WithSink(s Sink) Option {
	return func(a *Assembler) { a.sink = s }
}

// WithReconstructionDir makes re-verification write each group's
// reconstructed text to dir as logs_<digest>.txt and hash the written file.
func WithReconstructionDir(dir string) Option {
	return func(a *Assembler) { a.reconstructionDir = dir }
}

// NewAssembler creates an assembler over store using rules.
func NewAssembler(store model.BundleReader, rules *classify.RuleSet, opts ...Option) (*Assembler, error) {
	if store == nil {
		return nil, errors.New("report: store is nil")
	}
	if rules == nil {
		return nil, errors.New("report: rule set is nil")
	}
	a := &Assembler{
		store:  store,
		rules:  rules,
		now:    time.Now,
		logger: log.With().Str("component", "report").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.reconstructionDir != "" {
		if err := os.MkdirAll(a.reconstructionDir, 0o755); err != nil {
			return nil, fmt.Errorf("report: create reconstruction dir: %w", err)
		}
	}
	return a, nil
}

// Assemble builds the report for deviceID over [start, end]. A hash
// mismatch is not an error: the report carries only the warning.
func (a *Assembler) Assemble(ctx context.Context, deviceID string, start, end time.Time) (*Report, error) {
	r, err := a.assemble(ctx, deviceID, start, end)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if r.Hash.Verified {
		metrics.ReportsTotal.WithLabelValues("verified").Inc()
	} else {
		metrics.ReportsTotal.WithLabelValues("mismatch").Inc()
	}
	return r, nil
}

// Generate assembles the report and hands it to the configured sink. It
// returns the sink's location for the report.
func (a *Assembler) Generate(ctx context.Context, deviceID string, start, end time.Time) (*Report, string, error) {
	if a.sink == nil {
		return nil, "", faults.Fatal("report", errors.New("no document sink configured"))
	}
	r, err := a.Assemble(ctx, deviceID, start, end)
	if err != nil {
		return nil, "", err
	}
	where, err := a.sink.Deliver(ctx, r)
	if err != nil {
		return r, "", faults.Fatal("report sink", err)
	}
	a.logger.Info().
		Str("device_id", deviceID).
		Bool("verified", r.Hash.Verified).
		Int("bundles", r.Bundles).
		Str("location", where).
		Msg("report delivered")
	return r, where, nil
}

func (a *Assembler) assemble(ctx context.Context, deviceID string, start, end time.Time) (*Report, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, faults.Validation("report", errors.New("device id is empty"), "")
	}
	if end.Before(start) {
		return nil, faults.Validation("report", errInvalidWindow,
			fmt.Sprintf("%s ~ %s", start.Format(model.TimeLayout), end.Format(model.TimeLayout)))
	}

	bundles, err := a.store.BundlesInWindow(ctx, deviceID, start, end)
	if err != nil {
		return nil, faults.Transient("report", err)
	}

	r := &Report{
		DeviceID:    deviceID,
		Start:       start,
		End:         end,
		GeneratedAt: a.now(),
		Bundles:     len(bundles),
	}
	r.Hash, err = a.verify(bundles)
	if err != nil {
		return nil, err
	}
	if !r.Hash.Verified {
		a.logger.Warn().Str("device_id", deviceID).Strs("narrative", r.Hash.Narrative).Msg("report withheld")
		return r, nil
	}

	r.Categories = a.classify(bundles)
	r.Timeline = Timeline(bundles)
	return r, nil
}

// verify groups bundles by stored digest and re-hashes the reconstruction
// of every bundle in every group.
func (a *Assembler) verify(bundles []model.LogBundle) (HashValidation, error) {
	var order []string
	groups := make(map[string][]model.LogBundle)
	for _, b := range bundles {
		key := strings.ToLower(b.Digest)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], b)
	}

	hv := HashValidation{Verified: true}
	for _, key := range order {
		check, err := a.verifyGroup(key, groups[key])
		if err != nil {
			return HashValidation{}, err
		}
		hv.Groups = append(hv.Groups, check)
		if !check.Valid {
			hv.Verified = false
			hv.Narrative = append(hv.Narrative, fmt.Sprintf(mismatchNarrative, check.Digest, check.Found))
		}
	}
	if hv.Verified {
		hv.Narrative = append(hv.Narrative, successNarrative)
	} else {
		hv.Narrative = append(hv.Narrative, failureNarrative)
	}
	return hv, nil
}

func (a *Assembler) verifyGroup(key string, group []model.LogBundle) (GroupCheck, error) {
	check := GroupCheck{Digest: key, Bundles: len(group), Valid: true}
	for i, b := range group {
		var (
			found string
			err   error
		)
		if i == 0 && a.reconstructionDir != "" {
			found, err = a.writeReconstruction(key, b)
		} else {
			found, _, err = ingest.Reverify(b)
		}
		if err != nil {
			return GroupCheck{}, err
		}
		if check.Found == "" || !digest.Equal(found, key) {
			check.Found = found
		}
		if !digest.Equal(found, key) {
			check.Valid = false
			a.logger.Warn().
				Str("bundle_id", b.ID).
				Str("device_id", b.DeviceID).
				Str("category", b.Category).
				Str("expected", key).
				Str("found", found).
				Msg("stored bundle failed re-verification")
			break
		}
	}
	return check, nil
}

func (a *Assembler) writeReconstruction(key string, b model.LogBundle) (string, error) {
	f, err := os.CreateTemp(a.reconstructionDir, "logs_*.tmp")
	if err != nil {
		return "", faults.Fatal("report reconstruction", err)
	}
	tmp := f.Name()
	_, err = f.Write(ingest.Reconstruct(b))
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp, 0o644)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", faults.Fatal("report reconstruction", err)
	}

	// Hash the private copy; concurrent reports may replace the shared name.
	sum, err := digest.File(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return "", faults.Fatal("report reconstruction", err)
	}
	if err := os.Rename(tmp, filepath.Join(a.reconstructionDir, "logs_"+key+".txt")); err != nil {
		_ = os.Remove(tmp)
		return "", faults.Fatal("report reconstruction", err)
	}
	return sum, nil
}

func (a *Assembler) classify(bundles []model.LogBundle) []CategorySection {
	byCategory := make(map[string][]model.Message)
	for _, b := range bundles {
		byCategory[b.Category] = append(byCategory[b.Category], b.Messages...)
	}
	var sections []CategorySection
	for _, category := range a.rules.Categories() {
		events := a.rules.Events(category, byCategory[category])
		if len(events) == 0 {
			continue
		}
		sections = append(sections, CategorySection{Category: category, Events: events})
	}
	return sections
}

// Timeline merges every message of bundles into one sequence ordered by
// device time. Equal timestamps keep retrieval order.
func Timeline(bundles []model.LogBundle) []model.TimelineEntry {
	var n int
	for _, b := range bundles {
		n += len(b.Messages)
	}
	entries := make([]model.TimelineEntry, 0, n)
	for _, b := range bundles {
		for _, m := range b.Messages {
			entries = append(entries, model.TimelineEntry{
				DeviceTime: m.DeviceTime,
				Content:    m.Content,
				Category:   b.Category,
				Estimated:  correlate.Estimate(m),
			})
		}
	}
	model.SortTimeline(entries)
	return entries
}
