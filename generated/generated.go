// Package generated computes and stores the derived data of an
// infrastructure: layers built from its railjson objects and tagged with the
// source version they were computed from.
package generated

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/danielyj147/osrd/railjson"
)

// Data is the output of a Computer: named layers of opaque bytes.
type Data struct {
	Layers map[string][]byte `msgpack:"layers" json:"layers"`
}

// Layer returns the named layer.
func (d *Data) Layer(name string) ([]byte, bool) {
	if d == nil {
		return nil, false
	}
	b, ok := d.Layers[name]
	return b, ok
}

// Artifact is stored derived data together with the source version it was
// computed from.
type Artifact struct {
	InfraID    int64     `msgpack:"infra_id" json:"infra_id"`
	Version    string    `msgpack:"version" json:"version"`
	Data       *Data     `msgpack:"data" json:"data"`
	ComputedAt time.Time `msgpack:"computed_at" json:"computed_at"`
}

// Computer builds derived data from a loaded document. It is called outside
// any database transaction and may be slow.
type Computer interface {
	Compute(ctx context.Context, infraID int64, doc railjson.Document) (*Data, error)
}

// ComputeFunc adapts a function to Computer.
type ComputeFunc func(ctx context.Context, infraID int64, doc railjson.Document) (*Data, error)

// Compute calls f.
func (f ComputeFunc) Compute(ctx context.Context, infraID int64, doc railjson.Document) (*Data, error) {
	return f(ctx, infraID, doc)
}

// IndexComputer builds one layer per object kind holding the sorted object
// ids of that kind as a JSON array. Empty kinds produce an empty array.
type IndexComputer struct{}

// Compute builds one layer per kind listing the object ids in order.
func (IndexComputer) Compute(ctx context.Context, _ int64, doc railjson.Document) (*Data, error) {
	data := &Data{Layers: make(map[string][]byte, len(railjson.Kinds))}
	for _, kind := range railjson.Kinds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		objects := doc.Objects(kind)
		ids := make([]string, len(objects))
		for i, o := range objects {
			ids[i] = o.ID
		}
		sort.Strings(ids)

		layer, err := json.Marshal(ids)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", kind, err)
		}
		data.Layers[string(kind)] = layer
	}
	return data, nil
}
