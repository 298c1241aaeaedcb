package infra

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type generatedState uint8

const (
	stateUnset generatedState = iota
	stateCleared
	stateFresh
)

// GeneratedVersion records which source version the derived data was built
// from. It is one of Unset (never computed), Cleared (explicitly invalidated)
// or Fresh(v) (computed from version v). The zero value is Unset.
//
// It is stored as nullable text: NULL for Unset, the empty string for Cleared
// and v for Fresh(v). Versions are decimal integers, so v is never empty.
type GeneratedVersion struct {
	state   generatedState
	version string
}

// Unset is the state of an infrastructure whose derived data was never built.
func Unset() GeneratedVersion {
	return GeneratedVersion{}
}

// Cleared is the state after derived data was dropped.
func Cleared() GeneratedVersion {
	return GeneratedVersion{state: stateCleared}
}

// Fresh marks derived data built from version.
func Fresh(version string) GeneratedVersion {
	if version == "" {
		return Cleared()
	}
	return GeneratedVersion{state: stateFresh, version: version}
}

// IsUnset reports whether derived data was never built.
func (g GeneratedVersion) IsUnset() bool { return g.state == stateUnset }

// IsCleared reports whether derived data was explicitly dropped.
func (g GeneratedVersion) IsCleared() bool { return g.state == stateCleared }

// Version returns v for Fresh(v).
func (g GeneratedVersion) Version() (string, bool) {
	return g.version, g.state == stateFresh
}

// IsFreshAt reports whether the derived data was built from version.
func (g GeneratedVersion) IsFreshAt(version string) bool {
	return g.state == stateFresh && g.version == version
}

// State classifies g against the current source version.
func (g GeneratedVersion) State(version string) CacheState {
	switch g.state {
	case stateCleared:
		return StateCleared
	case stateFresh:
		if g.version == version {
			return StateFresh
		}
		return StateOutdated
	default:
		return StateUnset
	}
}

// String renders g for logs: unset, cleared or fresh(v).
func (g GeneratedVersion) String() string {
	switch g.state {
	case stateCleared:
		return "cleared"
	case stateFresh:
		return "fresh(" + g.version + ")"
	default:
		return "unset"
	}
}

// Value implements driver.Valuer.
func (g GeneratedVersion) Value() (driver.Value, error) {
	switch g.state {
	case stateCleared:
		return "", nil
	case stateFresh:
		return g.version, nil
	default:
		return nil, nil
	}
}

// Scan implements sql.Scanner.
func (g *GeneratedVersion) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*g = Unset()
	case string:
		*g = Fresh(v)
	case []byte:
		*g = Fresh(string(v))
	default:
		return fmt.Errorf("generated version: cannot scan %T", src)
	}
	return nil
}

// MarshalJSON encodes Unset as null, Cleared as "" and Fresh(v) as "v".
func (g GeneratedVersion) MarshalJSON() ([]byte, error) {
	if g.state == stateUnset {
		return []byte("null"), nil
	}
	return json.Marshal(g.version)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (g *GeneratedVersion) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*g = Unset()
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("generated version: %w", err)
	}
	*g = Fresh(v)
	return nil
}

// CacheState is the observable freshness of an infrastructure's derived data.
type CacheState string

// Cache states reported by State.
const (
	StateUnset    CacheState = "unset"
	StateCleared  CacheState = "cleared"
	StateFresh    CacheState = "fresh"
	StateOutdated CacheState = "outdated"
)

// NeedsRefresh reports whether a non forced refresh would recompute.
func (s CacheState) NeedsRefresh() bool {
	return s != StateFresh
}
