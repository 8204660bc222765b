// Package digest computes the SHA-256 content digest used to seal log
// artifacts and to re-verify them before analysis.
//
// The digest is taken over canonical text: every line terminated by "\n".
// Input lacking a final newline is hashed as if it had one, and a carriage
// return before a newline is dropped, so a well-formed artifact hashes as its
// exact bytes.
package digest

import (
	"bufio"
	"bytes"
	"crypto"
	_ "crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/tinytelemetry/tracevault/internal/faults"
)

// Size is the length of a hex digest.
const Size = 64

func newHash() (hash.Hash, error) {
	if !crypto.SHA256.Available() {
		return nil, faults.Fatal("digest", faults.ErrDigestUnavailable)
	}
	return crypto.SHA256.New(), nil
}

// Sum returns the hex digest of content.
func Sum(content []byte) (string, error) {
	return Reader(bytes.NewReader(content))
}

// Lines returns the hex digest of lines joined as canonical text.
func Lines(lines []string) (string, error) {
	h, err := newHash()
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		_, _ = io.WriteString(h, strings.TrimSuffix(line, "\r"))
		_, _ = h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Reader streams r into the digest line by line.
func Reader(r io.Reader) (string, error) {
	h, err := newHash()
	if err != nil {
		return "", err
	}
	br := bufio.NewReader(r)
	for {
		line, rerr := br.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimSuffix(line, []byte{'\n'})
			line = bytes.TrimSuffix(line, []byte{'\r'})
			_, _ = h.Write(line)
			_, _ = h.Write([]byte{'\n'})
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", fmt.Errorf("digest: read: %w", rerr)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Binary returns the plain SHA-256 of r's bytes, without line
// canonicalization. It seals binary files such as store snapshots.
func Binary(r io.Reader) (string, error) {
	h, err := newHash()
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("digest: read: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File returns the hex digest of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("digest: open: %w", err)
	}
	defer f.Close()
	return Reader(f)
}

// Equal compares two hex digests ignoring case and surrounding whitespace.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Valid reports whether s looks like a hex SHA-256 digest.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
