// ABOUTME: Backup payload sniffing, wrapping, and version compatibility
// ABOUTME: Handles raw JSON payloads, outer JSON envelopes, and ZIP archives

package backup

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SupportedVersion is the backup schema this build reads and writes.
const SupportedVersion = 2

// EnvelopeFormat marks the outer JSON envelope some exporters wrap
// around the native payload.
const EnvelopeFormat = "w3pk-backup"

// ZipEntryName is the archive entry holding the encrypted payload in
// ZIP-packaged backups.
const ZipEntryName = "backup.w3pk"

// Sentinel errors for the restore path.
var (
	// ErrIncompatibleVersion marks a backup produced by a pre-versioning
	// schema. These must never be fed to a normal restore.
	ErrIncompatibleVersion = errors.New("backup was created by an incompatible older version")
	// ErrUnsupportedVersion marks a backup from a newer schema than this
	// build understands.
	ErrUnsupportedVersion = errors.New("backup schema version is newer than this build supports")
	// ErrUnrecognized marks data that is not a backup in any known shape.
	ErrUnrecognized = errors.New("data is not a recognized backup")
)

// Format identifies how a backup payload is packaged.
type Format string

const (
	FormatRaw      Format = "raw"      // native versioned JSON
	FormatEnvelope Format = "envelope" // outer JSON wrapper
	FormatZip      Format = "zip"      // ZIP archive with an encrypted entry
)

// envelope is the outer wrapper shape.
type envelope struct {
	Format  string          `json:"format"`
	Payload json.RawMessage `json:"payload"`
}

// probe is the minimal native payload shape needed for version checks.
// Legacy exports carried "encrypted" or "mnemonic" at the top level and
// no version field at all.
type probe struct {
	Version   *int            `json:"version"`
	Encrypted json.RawMessage `json:"encrypted"`
	Mnemonic  json.RawMessage `json:"mnemonic"`
}

// Detect reports how data is packaged, without validating the payload.
func Detect(data []byte) Format {
	if isZip(data) {
		return FormatZip
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && env.Format == EnvelopeFormat {
		return FormatEnvelope
	}
	return FormatRaw
}

// Unwrap normalizes any accepted packaging down to the native versioned
// payload, rejecting legacy and too-new schemas. The returned bytes are
// what the SDK's restore expects.
func Unwrap(data []byte) ([]byte, error) {
	switch Detect(data) {
	case FormatZip:
		inner, err := extractZipEntry(data)
		if err != nil {
			return nil, err
		}
		return Unwrap(inner)
	case FormatEnvelope:
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("parsing backup envelope: %w", err)
		}
		return Unwrap(env.Payload)
	}

	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}
	if p.Version == nil {
		if len(p.Encrypted) > 0 || len(p.Mnemonic) > 0 {
			return nil, ErrIncompatibleVersion
		}
		return nil, ErrUnrecognized
	}
	if *p.Version > SupportedVersion {
		return nil, fmt.Errorf("%w: got version %d, support up to %d", ErrUnsupportedVersion, *p.Version, SupportedVersion)
	}
	if *p.Version < SupportedVersion {
		return nil, ErrIncompatibleVersion
	}
	return data, nil
}

// WrapEnvelope packages a native payload in the outer JSON envelope.
func WrapEnvelope(payload []byte) ([]byte, error) {
	return json.Marshal(envelope{Format: EnvelopeFormat, Payload: payload})
}

// WrapZip packages a native payload as a ZIP archive with a single
// encrypted entry plus a short README for whoever finds the file.
func WrapZip(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create(ZipEntryName)
	if err != nil {
		return nil, fmt.Errorf("creating zip entry: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("writing zip entry: %w", err)
	}

	readme, err := zw.Create("README.txt")
	if err != nil {
		return nil, fmt.Errorf("creating readme entry: %w", err)
	}
	if _, err := io.WriteString(readme, "Encrypted wallet backup. Restore it with the genji CLI and your backup password.\n"); err != nil {
		return nil, fmt.Errorf("writing readme: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finishing zip: %w", err)
	}
	return buf.Bytes(), nil
}

func isZip(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], []byte("PK\x03\x04"))
}

// extractZipEntry pulls the encrypted payload entry out of a ZIP backup.
// Falls back to the first non-README entry for archives produced by
// other tooling.
func extractZipEntry(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: reading zip: %v", ErrUnrecognized, err)
	}

	var fallback *zip.File
	for _, f := range zr.File {
		if f.Name == ZipEntryName {
			return readZipFile(f)
		}
		if fallback == nil && !strings.EqualFold(f.Name, "README.txt") {
			fallback = f
		}
	}
	if fallback != nil {
		return readZipFile(fallback)
	}
	return nil, fmt.Errorf("%w: zip archive has no backup entry", ErrUnrecognized)
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
