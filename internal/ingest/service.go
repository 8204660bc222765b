package ingest

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/tracevault/internal/artifact"
	"github.com/tinytelemetry/tracevault/internal/companion"
	"github.com/tinytelemetry/tracevault/internal/faults"
	"github.com/tinytelemetry/tracevault/internal/metrics"
	"github.com/tinytelemetry/tracevault/internal/model"
)

// Upload is one artifact as received from an agent: the log file and its
// hash companion, each with the file name it was sent under.
type Upload struct {
	LogName  string
	Log      []byte
	HashName string
	Hash     []byte
}

// Service verifies uploads and records the accepted ones.
type Service struct {
	store    model.BundleWriter
	registry *companion.Registry
	archive  *Archive
	logger   zerolog.Logger
}

// NewService creates an ingestion service. registry and archive are optional.
func NewService(store model.BundleWriter, registry *companion.Registry, archive *Archive) *Service {
	return &Service{
		store:    store,
		registry: registry,
		archive:  archive,
		logger:   log.With().Str("component", "ingest").Logger(),
	}
}

// Ingest verifies up and, when it passes, persists it as a bundle. A
// rejected upload leaves no trace besides the audit log entry.
func (s *Service) Ingest(ctx context.Context, up Upload) (*model.LogBundle, error) {
	b, err := s.verify(up)
	if err != nil {
		s.reject(up, err)
		return nil, err
	}

	if _, ok, err := Reverify(b); err == nil && !ok {
		s.logger.Warn().
			Str("device_id", b.DeviceID).
			Str("category", b.Category).
			Str("digest", b.Digest).
			Msg("artifact holds lines that do not survive parsing; reports covering it will fail verification")
	}

	if err := s.store.SaveBundle(ctx, &b); err != nil {
		err = faults.Transient("store", err).WithPair(b.DeviceID, b.Category)
		s.reject(up, err)
		return nil, err
	}

	if s.registry != nil {
		if err := s.registry.Publish(b.Pair(), b.Digest); err != nil {
			s.logger.Error().Err(err).Str("device_id", b.DeviceID).Str("category", b.Category).Msg("publish live digest")
		}
	}
	if s.archive != nil {
		if _, err := s.archive.Store(b, up.Log); err != nil {
			s.logger.Error().Err(err).Str("device_id", b.DeviceID).Str("category", b.Category).Msg("archive artifact")
		}
	}

	metrics.IngestTotal.WithLabelValues(categoryLabel(b.Category), "accepted").Inc()
	metrics.IngestMessages.Add(float64(len(b.Messages)))
	s.logger.Info().
		Str("bundle_id", b.ID).
		Str("device_id", b.DeviceID).
		Str("category", b.Category).
		Str("digest", b.Digest).
		Int("messages", len(b.Messages)).
		Msg("artifact accepted")
	return &b, nil
}

func (s *Service) verify(up Upload) (model.LogBundle, error) {
	pair, err := artifact.ParseName(up.LogName)
	if err != nil {
		return model.LogBundle{}, err
	}
	if want := artifact.HashName(pair); up.HashName != want {
		return model.LogBundle{}, faults.Validation("verify", faults.ErrMalformedFilename,
			fmt.Sprintf("hash file %q does not pair with %q", up.HashName, up.LogName)).
			WithPair(pair.DeviceID, pair.Category)
	}
	asserted, err := companion.Parse(up.Hash)
	if err != nil {
		return model.LogBundle{}, faults.Validation("verify", faults.ErrMissingDigest, err.Error()).
			WithPair(pair.DeviceID, pair.Category)
	}
	return Verify(up.LogName, up.Log, asserted)
}

func (s *Service) reject(up Upload, err error) {
	category := "unknown"
	if pair, perr := artifact.ParseName(up.LogName); perr == nil {
		category = pair.Category
	}
	metrics.IngestTotal.WithLabelValues(categoryLabel(category), string(faults.KindOf(err))).Inc()
	faults.LogRejection(s.logger, err)
}

func categoryLabel(category string) string {
	if category == "unknown" || slices.Contains(model.Categories, category) {
		return category
	}
	return "other"
}
