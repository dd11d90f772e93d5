package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Option configures aggregate construction and rehydration. Options that do
// not apply to an aggregate are ignored by it.
type Option func(*options)

type options struct {
	clock        clockwork.Clock
	id           string
	actor        string
	storageQuota *int64
	maxUsers     *int
	plan         string
	planExpiry   *time.Time
}

func buildOptions(opts []Option) options {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	return o
}

// WithClock sets the clock used for every timestamp the aggregate records.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithID assigns an id instead of generating one. Ignored by NewTenant, whose
// id is its natural key.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// CreatedBy records the creating actor.
func CreatedBy(actor string) Option {
	return func(o *options) { o.actor = actor }
}

// WithStorageQuota sets a tenant's initial storage quota in bytes.
func WithStorageQuota(bytes int64) Option {
	return func(o *options) { o.storageQuota = &bytes }
}

// WithMaxUsers sets a tenant's initial user limit.
func WithMaxUsers(n int) Option {
	return func(o *options) { o.maxUsers = &n }
}

// WithSubscription sets a tenant's initial plan and optional expiry.
func WithSubscription(plan string, expiresAt *time.Time) Option {
	return func(o *options) {
		o.plan = plan
		o.planExpiry = copyTime(expiresAt)
	}
}
