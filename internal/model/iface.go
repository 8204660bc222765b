package model

import (
	"context"
	"time"
)

// BundleWriter persists accepted bundles.
type BundleWriter interface {
	SaveBundle(ctx context.Context, b *LogBundle) error
}

// BundleReader provides the read side used by reports and listings.
type BundleReader interface {
	// BundlesInWindow returns the device's bundles whose earliest message
	// falls within [start, end], oldest first.
	BundlesInWindow(ctx context.Context, deviceID string, start, end time.Time) ([]LogBundle, error)
	BundlesFor(ctx context.Context, pair Pair) ([]LogBundle, error)
}

// BundleScanner walks every stored bundle.
type BundleScanner interface {
	EachBundle(ctx context.Context, fn func(LogBundle) error) error
}

// BundlePurger removes every stored bundle.
type BundlePurger interface {
	PurgeBundles(ctx context.Context) (int64, error)
}

// BundleStore is the full contract of the evidence store.
type BundleStore interface {
	BundleWriter
	BundleReader
	BundleScanner
	BundlePurger
}
