// Package ingest is the server-side trust boundary. An artifact enters the
// store only after its digest has been recomputed here and found equal to
// the digest its companion asserts.
package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tinytelemetry/tracevault/internal/artifact"
	"github.com/tinytelemetry/tracevault/internal/digest"
	"github.com/tinytelemetry/tracevault/internal/faults"
	"github.com/tinytelemetry/tracevault/internal/logline"
	"github.com/tinytelemetry/tracevault/internal/model"
)

// Verify checks one artifact against its asserted digest and converts it
// into a bundle. It does no I/O and is safe for concurrent use.
//
// Checks run in order: filename, emptiness, digest, then line parsing. Any
// failure rejects the whole artifact.
func Verify(name string, content []byte, asserted string) (model.LogBundle, error) {
	pair, err := artifact.ParseName(name)
	if err != nil {
		return model.LogBundle{}, err
	}
	if len(content) == 0 {
		return model.LogBundle{}, faults.Validation("verify", faults.ErrEmptyLog, name).
			WithPair(pair.DeviceID, pair.Category)
	}

	sum, err := digest.Sum(content)
	if err != nil {
		return model.LogBundle{}, err
	}
	if !digest.Equal(sum, asserted) {
		reason := fmt.Sprintf("expected %s, found %s", strings.TrimSpace(asserted), sum)
		return model.LogBundle{}, faults.Integrity("verify", faults.ErrDigestMismatch, reason).
			WithPair(pair.DeviceID, pair.Category)
	}

	msgs, err := logline.ParseAll(logline.Split(string(content)))
	if err != nil {
		var fe *faults.Error
		if errors.As(err, &fe) {
			return model.LogBundle{}, faults.Validation("verify", err, "").WithPair(pair.DeviceID, pair.Category)
		}
		return model.LogBundle{}, err
	}

	return model.LogBundle{
		DeviceID: pair.DeviceID,
		Category: pair.Category,
		Digest:   sum,
		Messages: msgs,
	}, nil
}

// Reconstruct renders a bundle's messages back into artifact text.
func Reconstruct(b model.LogBundle) []byte {
	lines := logline.FormatAll(b.Messages)
	if len(lines) == 0 {
		return nil
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

// Reverify recomputes the digest of b's reconstruction. ok reports whether
// it equals the digest stored with the bundle.
func Reverify(b model.LogBundle) (sum string, ok bool, err error) {
	sum, err = digest.Lines(logline.FormatAll(b.Messages))
	if err != nil {
		return "", false, err
	}
	return sum, digest.Equal(sum, b.Digest), nil
}
