// Package artifact holds the file naming convention shared by the agent and
// the server: "<deviceId>_<category>.txt" for content and
// "<deviceId>_<category>_hash.txt" for its digest companion.
package artifact

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tinytelemetry/tracevault/internal/faults"
	"github.com/tinytelemetry/tracevault/internal/model"
)

const (
	logExt     = ".txt"
	hashSuffix = "_hash"
)

// LogName returns the content file name for pair.
func LogName(p model.Pair) string { return p.String() + logExt }

// HashName returns the companion file name for pair.
func HashName(p model.Pair) string { return p.String() + hashSuffix + logExt }

// Paths returns the content and companion paths for pair under dir.
func Paths(dir string, p model.Pair) (logPath, hashPath string) {
	return filepath.Join(dir, LogName(p)), filepath.Join(dir, HashName(p))
}

// ParseName extracts the pair encoded in a content file name. Companion
// names and names without both parts are rejected.
func ParseName(name string) (model.Pair, error) {
	base := filepath.Base(name)
	stem, ok := strings.CutSuffix(base, logExt)
	if !ok {
		return model.Pair{}, malformed(base, "missing .txt extension")
	}
	if strings.HasSuffix(stem, hashSuffix) {
		return model.Pair{}, malformed(base, "hash companion is not a log artifact")
	}
	deviceID, category, ok := strings.Cut(stem, "_")
	if !ok || deviceID == "" || category == "" {
		return model.Pair{}, malformed(base, "expected deviceId_category.txt")
	}
	if strings.Contains(category, "_") {
		return model.Pair{}, malformed(base, "category must not contain '_'")
	}
	return model.Pair{DeviceID: deviceID, Category: category}, nil
}

// ValidatePair checks that p can be encoded into an artifact name.
func ValidatePair(p model.Pair) error {
	if p.DeviceID == "" || p.Category == "" {
		return malformed(p.String(), "device id and category are required")
	}
	if strings.ContainsAny(p.DeviceID, "_/\\") || strings.ContainsAny(p.Category, "_/\\") {
		return malformed(p.String(), "device id and category must not contain '_' or path separators")
	}
	return nil
}

func malformed(name, reason string) error {
	return faults.Validation("artifact", faults.ErrMalformedFilename, fmt.Sprintf("%s: %s", name, reason))
}
