package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ClockSkewTolerance bounds how far in the future a creation timestamp may lie.
const ClockSkewTolerance = 5 * time.Minute

// Lifecycle is the logical deletion state of an entity.
type Lifecycle string

const (
	LifecycleActive  Lifecycle = "active"
	LifecycleDeleted Lifecycle = "deleted"
)

// Deletion records who soft-deleted an entity and when.
type Deletion struct {
	At time.Time
	By string
}

// Auditable is implemented by aggregates that track creation and update stamps.
type Auditable interface {
	CreatedAt() time.Time
	CreatedBy() string
	UpdatedAt() *time.Time
	UpdatedBy() string
	MarkUpdated(actor string)
}

// TenantScoped is implemented by aggregates owned by exactly one tenant.
type TenantScoped interface {
	TenantID() string
	BelongsToTenant(tenantID string) bool
}

// SoftDeletable is implemented by aggregates that are deleted logically.
type SoftDeletable interface {
	State() Lifecycle
	IsDeleted() bool
	DeletedAt() *time.Time
	DeletedBy() string
	MarkDeleted(actor string)
	Restore(actor string)
}

// Identity is the (id, tenant) pair that defines entity equality.
type Identity interface {
	ID() string
	TenantID() string
}

// Entity carries identity, tenant ownership, audit stamps and the soft-delete
// state shared by every aggregate. Aggregates embed it.
type Entity struct {
	id        string
	tenantID  string
	createdAt time.Time
	createdBy string
	updatedAt *time.Time
	updatedBy string
	deletion  *Deletion
	version   int64
	clock     clockwork.Clock
}

func newEntity(id, tenantID string, o options) Entity {
	if id == "" {
		id = uuid.NewString()
	}
	return Entity{
		id:        id,
		tenantID:  tenantID,
		createdAt: o.clock.Now().UTC(),
		createdBy: o.actor,
		version:   1,
		clock:     o.clock,
	}
}

func (e *Entity) ID() string           { return e.id }
func (e *Entity) TenantID() string     { return e.tenantID }
func (e *Entity) CreatedAt() time.Time { return e.createdAt }
func (e *Entity) CreatedBy() string    { return e.createdBy }
func (e *Entity) UpdatedBy() string    { return e.updatedBy }

func (e *Entity) UpdatedAt() *time.Time { return copyTime(e.updatedAt) }

// Version is the stored revision the entity was loaded at. Repositories only
// overwrite a row whose version still matches.
func (e *Entity) Version() int64 { return e.version }

// SetVersion records the revision a repository wrote.
func (e *Entity) SetVersion(v int64) { e.version = v }

func (e *Entity) State() Lifecycle {
	if e.deletion != nil {
		return LifecycleDeleted
	}
	return LifecycleActive
}

func (e *Entity) IsDeleted() bool { return e.deletion != nil }

func (e *Entity) DeletedAt() *time.Time {
	if e.deletion == nil {
		return nil
	}
	at := e.deletion.At
	return &at
}

func (e *Entity) DeletedBy() string {
	if e.deletion == nil {
		return ""
	}
	return e.deletion.By
}

// MarkUpdated stamps actor and the current time. The stamp never precedes
// createdAt even if the clock stepped backwards.
func (e *Entity) MarkUpdated(actor string) {
	e.touch()
	e.updatedBy = actor
}

func (e *Entity) touch() {
	now := e.now()
	if now.Before(e.createdAt) {
		now = e.createdAt
	}
	e.updatedAt = &now
}

// MarkDeleted soft-deletes the entity. Deleting an already deleted entity keeps
// the original deletion record.
func (e *Entity) MarkDeleted(actor string) {
	if e.deletion != nil {
		return
	}
	e.deletion = &Deletion{At: e.now(), By: actor}
	e.MarkUpdated(actor)
}

// Restore clears the deletion record.
func (e *Entity) Restore(actor string) {
	if e.deletion == nil {
		return
	}
	e.deletion = nil
	e.MarkUpdated(actor)
}

// BelongsToTenant compares tenant ids case-insensitively.
func (e *Entity) BelongsToTenant(tenantID string) bool {
	tenantID = strings.TrimSpace(tenantID)
	return tenantID != "" && strings.EqualFold(e.tenantID, tenantID)
}

// SameIdentity reports whether other has the same id and tenant.
func (e *Entity) SameIdentity(other Identity) bool {
	if other == nil {
		return false
	}
	return e.id == other.ID() && strings.EqualFold(e.tenantID, other.TenantID())
}

func (e *Entity) reassignTenant(tenantID string) {
	e.tenantID = tenantID
}

func (e *Entity) now() time.Time {
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	return e.clock.Now().UTC()
}

// validate checks the invariants of a rehydrated entity.
func (e *Entity) validate() error {
	if strings.TrimSpace(e.id) == "" {
		return invalid("id", "must not be blank")
	}
	if strings.TrimSpace(e.tenantID) == "" {
		return invalid("tenant_id", "must not be blank")
	}
	if e.createdAt.IsZero() {
		return invalid("created_at", "must be set")
	}
	if e.createdAt.After(e.now().Add(ClockSkewTolerance)) {
		return invalid("created_at", "%s lies in the future", e.createdAt.Format(time.RFC3339))
	}
	if e.updatedAt != nil && e.updatedAt.Before(e.createdAt) {
		return invalid("updated_at", "must not precede created_at")
	}
	return nil
}

// EntityRecord is the persisted form of Entity. A non-nil DeletedAt means the
// entity is deleted; there is no separate flag to disagree with it.
type EntityRecord struct {
	ID        string
	TenantID  string
	CreatedAt time.Time
	CreatedBy string
	UpdatedAt *time.Time
	UpdatedBy string
	DeletedAt *time.Time
	DeletedBy string
	Version   int64
}

func (e *Entity) record() EntityRecord {
	return EntityRecord{
		ID:        e.id,
		TenantID:  e.tenantID,
		CreatedAt: e.createdAt,
		CreatedBy: e.createdBy,
		UpdatedAt: copyTime(e.updatedAt),
		UpdatedBy: e.updatedBy,
		DeletedAt: e.DeletedAt(),
		DeletedBy: e.DeletedBy(),
		Version:   e.version,
	}
}

func entityFromRecord(r EntityRecord, o options) (Entity, error) {
	e := Entity{
		id:        r.ID,
		tenantID:  r.TenantID,
		createdAt: r.CreatedAt.UTC(),
		createdBy: r.CreatedBy,
		updatedBy: r.UpdatedBy,
		version:   r.Version,
		clock:     o.clock,
	}
	if e.version < 1 {
		e.version = 1
	}
	if r.UpdatedAt != nil {
		at := r.UpdatedAt.UTC()
		e.updatedAt = &at
	}
	if r.DeletedAt != nil {
		e.deletion = &Deletion{At: r.DeletedAt.UTC(), By: r.DeletedBy}
	}
	if err := e.validate(); err != nil {
		return Entity{}, err
	}
	return e, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
