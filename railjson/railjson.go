// Package railjson models the infrastructure import document.
//
// A document carries a format version and one list per object kind. Objects
// stay opaque: only their "id" is read, the rest of the payload is stored and
// returned byte for byte.
package railjson

import (
	"bytes"
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

// Version is the only document format version accepted by the store.
const Version = "3.2.0"

// Kind names an object collection. Its value is the document key.
type Kind string

const (
	BufferStops       Kind = "buffer_stops"
	Catenaries        Kind = "catenaries"
	Detectors         Kind = "detectors"
	OperationalPoints Kind = "operational_points"
	Routes            Kind = "routes"
	Signals           Kind = "signals"
	Switches          Kind = "switches"
	SpeedSections     Kind = "speed_sections"
	SwitchTypes       Kind = "switch_types"
	TrackSectionLinks Kind = "track_section_links"
	TrackSections     Kind = "track_sections"
)

// Kinds lists every object kind in declaration order. Imports write the
// collections in this order.
var Kinds = []Kind{
	BufferStops,
	Catenaries,
	Detectors,
	OperationalPoints,
	Routes,
	Signals,
	Switches,
	SpeedSections,
	SwitchTypes,
	TrackSectionLinks,
	TrackSections,
}

// Object is one entry of a collection.
type Object struct {
	ID  string
	Raw json.RawMessage
}

// NewObject builds an object from an id and a payload. The payload's "id"
// member is set to id.
func NewObject(id string, payload map[string]any) (Object, error) {
	fields := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		fields[k] = v
	}
	fields["id"] = id

	raw, err := json.Marshal(fields)
	if err != nil {
		return Object{}, fmt.Errorf("encode object %s: %w", id, err)
	}
	return Object{ID: id, Raw: raw}, nil
}

// UnmarshalJSON keeps the payload and extracts its id.
func (o *Object) UnmarshalJSON(data []byte) error {
	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("object: %w", err)
	}

	var id string
	if len(head.ID) > 0 && !bytes.Equal(head.ID, []byte("null")) {
		if err := json.Unmarshal(head.ID, &id); err != nil {
			return fmt.Errorf("object id must be a string: %w", err)
		}
	}

	o.ID = id
	o.Raw = append(o.Raw[:0], data...)
	return nil
}

// MarshalJSON returns the stored payload.
func (o Object) MarshalJSON() ([]byte, error) {
	if len(o.Raw) == 0 {
		return json.Marshal(map[string]string{"id": o.ID})
	}
	return o.Raw, nil
}

// Validate implements validation.Validatable.
func (o Object) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.ID, validation.Required),
	)
}

// Document is a full infrastructure description.
type Document struct {
	Version           string   `json:"version"`
	BufferStops       []Object `json:"buffer_stops"`
	Catenaries        []Object `json:"catenaries"`
	Detectors         []Object `json:"detectors"`
	OperationalPoints []Object `json:"operational_points"`
	Routes            []Object `json:"routes"`
	Signals           []Object `json:"signals"`
	Switches          []Object `json:"switches"`
	SpeedSections     []Object `json:"speed_sections"`
	SwitchTypes       []Object `json:"switch_types"`
	TrackSectionLinks []Object `json:"track_section_links"`
	TrackSections     []Object `json:"track_sections"`
}

// New returns an empty document at the supported version.
func New() Document {
	return Document{Version: Version}
}

// Decode parses a JSON document. It does not check the format version.
func Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "decode railjson document")
	}
	return doc, nil
}

// Encode serialises the document with every collection present.
func (d Document) Encode() ([]byte, error) {
	out := d
	for _, kind := range Kinds {
		if out.Objects(kind) == nil {
			out.SetObjects(kind, []Object{})
		}
	}
	return json.Marshal(out)
}

// Objects returns the collection of the given kind.
func (d Document) Objects(kind Kind) []Object {
	if p := d.slot(kind); p != nil {
		return *p
	}
	return nil
}

// SetObjects replaces the collection of the given kind.
func (d *Document) SetObjects(kind Kind, objects []Object) {
	if p := d.slot(kind); p != nil {
		*p = objects
	}
}

// Len is the total number of objects across all kinds.
func (d Document) Len() int {
	n := 0
	for _, kind := range Kinds {
		n += len(d.Objects(kind))
	}
	return n
}

func (d *Document) slot(kind Kind) *[]Object {
	switch kind {
	case BufferStops:
		return &d.BufferStops
	case Catenaries:
		return &d.Catenaries
	case Detectors:
		return &d.Detectors
	case OperationalPoints:
		return &d.OperationalPoints
	case Routes:
		return &d.Routes
	case Signals:
		return &d.Signals
	case Switches:
		return &d.Switches
	case SpeedSections:
		return &d.SpeedSections
	case SwitchTypes:
		return &d.SwitchTypes
	case TrackSectionLinks:
		return &d.TrackSectionLinks
	case TrackSections:
		return &d.TrackSections
	}
	return nil
}

// Validate checks that every object has an id and that ids are unique within
// their kind. The format version is checked separately by the importer.
func (d Document) Validate() error {
	if err := goerrors.ValidateWithOzzo(func() error {
		errs := validation.Errors{}
		for _, kind := range Kinds {
			objects := d.Objects(kind)
			if err := validation.Validate(objects, validation.By(uniqueIDs)); err != nil {
				errs[string(kind)] = err
			}
		}
		return errs.Filter()
	}, "invalid railjson document"); err != nil {
		return err
	}
	return nil
}

func uniqueIDs(value any) error {
	objects, _ := value.([]Object)
	seen := make(map[string]int, len(objects))
	for i, o := range objects {
		if err := o.Validate(); err != nil {
			return fmt.Errorf("object %d: %w", i, err)
		}
		if j, dup := seen[o.ID]; dup {
			return fmt.Errorf("object %d reuses id %q of object %d", i, o.ID, j)
		}
		seen[o.ID] = i
	}
	return nil
}
