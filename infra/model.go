package infra

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// InitialVersion is the version of a freshly imported infrastructure.
const InitialVersion = "0"

// Infra is the parent row of an imported infrastructure.
type Infra struct {
	bun.BaseModel `bun:"table:osrd_infra_infra,alias:infra"`

	ID               int64            `bun:"id,pk,autoincrement" json:"id"`
	Name             string           `bun:"name,notnull" json:"name"`
	RailjsonVersion  string           `bun:"railjson_version,notnull" json:"railjson_version"`
	Owner            uuid.UUID        `bun:"owner,type:uuid,notnull" json:"-"`
	Version          string           `bun:"version,notnull" json:"version"`
	GeneratedVersion GeneratedVersion `bun:"generated_version,type:text" json:"generated_version"`
	Locked           bool             `bun:"locked,notnull" json:"locked"`
	Created          time.Time        `bun:"created,notnull" json:"created"`
	Modified         time.Time        `bun:"modified,notnull" json:"modified"`
}

// GetID implements repository.Model.
func (i *Infra) GetID() int64 { return i.ID }

// SetID implements repository.Model.
func (i *Infra) SetID(id int64) { i.ID = id }

// State is the freshness of the derived data of i.
func (i *Infra) State() CacheState {
	return i.GeneratedVersion.State(i.Version)
}

// ObjectRow is the common shape of every child table: the object id from the
// document, its opaque payload and the owning infrastructure.
type ObjectRow struct {
	ID      int64           `bun:"id,pk,autoincrement" json:"-"`
	ObjID   string          `bun:"obj_id,notnull" json:"obj_id"`
	Data    json.RawMessage `bun:"data,notnull" json:"data"`
	InfraID int64           `bun:"infra_id,notnull" json:"infra_id"`
}

// GetID implements repository.Model.
func (o *ObjectRow) GetID() int64 { return o.ID }

// SetID implements repository.Model.
func (o *ObjectRow) SetID(id int64) { o.ID = id }

func (o *ObjectRow) object() *ObjectRow { return o }

// BufferStopRow is a row of the buffer stops table.
type BufferStopRow struct {
	bun.BaseModel `bun:"table:osrd_infra_bufferstop,alias:obj"`
	ObjectRow
}

// CatenaryRow is a row of the catenaries table.
type CatenaryRow struct {
	bun.BaseModel `bun:"table:osrd_infra_catenary,alias:obj"`
	ObjectRow
}

// DetectorRow is a row of the detectors table.
type DetectorRow struct {
	bun.BaseModel `bun:"table:osrd_infra_detector,alias:obj"`
	ObjectRow
}

// OperationalPointRow is a row of the operational points table.
type OperationalPointRow struct {
	bun.BaseModel `bun:"table:osrd_infra_operationalpoint,alias:obj"`
	ObjectRow
}

// RouteRow is a row of the routes table.
type RouteRow struct {
	bun.BaseModel `bun:"table:osrd_infra_route,alias:obj"`
	ObjectRow
}

// SignalRow is a row of the signals table.
type SignalRow struct {
	bun.BaseModel `bun:"table:osrd_infra_signal,alias:obj"`
	ObjectRow
}

// SwitchRow is a row of the switches table.
type SwitchRow struct {
	bun.BaseModel `bun:"table:osrd_infra_switch,alias:obj"`
	ObjectRow
}

// SpeedSectionRow is a row of the speed sections table.
type SpeedSectionRow struct {
	bun.BaseModel `bun:"table:osrd_infra_speedsection,alias:obj"`
	ObjectRow
}

// SwitchTypeRow is a row of the switch types table.
type SwitchTypeRow struct {
	bun.BaseModel `bun:"table:osrd_infra_switchtype,alias:obj"`
	ObjectRow
}

// TrackSectionLinkRow is a row of the track section links table.
type TrackSectionLinkRow struct {
	bun.BaseModel `bun:"table:osrd_infra_tracksectionlink,alias:obj"`
	ObjectRow
}

// TrackSectionRow is a row of the track sections table.
type TrackSectionRow struct {
	bun.BaseModel `bun:"table:osrd_infra_tracksection,alias:obj"`
	ObjectRow
}
