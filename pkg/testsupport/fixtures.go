package testsupport

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/danielyj147/osrd/railjson"
)

// UpdateGolden rewrites golden files instead of comparing against them.
// Set OSRD_UPDATE_GOLDEN=1 when the expected output changes on purpose.
var UpdateGolden = os.Getenv("OSRD_UPDATE_GOLDEN") == "1"

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadFixtureJSON loads JSON test data from a fixture file and unmarshals it.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	data := LoadFixture(t, path)
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// LoadDocument decodes a railjson document fixture.
func LoadDocument(t testing.TB, path string) railjson.Document {
	t.Helper()

	doc, err := railjson.Decode(LoadFixture(t, path))
	if err != nil {
		t.Fatalf("failed to decode railjson fixture %s: %v", path, err)
	}
	return doc
}

// CompareGoldenJSON marshals actual with indentation and compares it with the
// golden file at path. A missing golden file, or UpdateGolden, writes it.
func CompareGoldenJSON(t testing.TB, path string, actual any) {
	t.Helper()

	data, err := json.MarshalIndent(actual, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal JSON for golden file %s: %v", path, err)
	}
	data = append(data, '\n')

	expected, err := os.ReadFile(path)
	if UpdateGolden || os.IsNotExist(err) {
		writeGolden(t, path, data)
		return
	}
	if err != nil {
		t.Fatalf("failed to read golden file %s: %v", path, err)
	}

	if !bytes.Equal(data, expected) {
		t.Errorf("output mismatch for %s:\nExpected:\n%s\nActual:\n%s", path, expected, data)
	}
}

func writeGolden(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write golden file to %s: %v", path, err)
	}
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// GoldenPath constructs a path to a golden file relative to the testdata directory.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}
