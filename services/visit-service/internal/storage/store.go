// Package storage keeps page documents keyed by reference. Every write that
// follows a read is conditioned on the version observed by that read.
package storage

import (
	"context"
	"errors"

	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
)

var (
	ErrNotFound = errors.New("page not found")
	ErrConflict = errors.New("page changed since read")
	ErrExists   = errors.New("page reference already taken")
)

// Attributes are top-level document fields to overwrite, keyed by their
// JSON/BSON field name (for example "slots" or "nonce").
type Attributes map[string]any

// Precondition guards a write: the stored version must still equal Version.
type Precondition struct {
	Version int64
}

// Store is the record access contract used by the engine, the cleanup job and
// the rotate-token command.
type Store interface {
	// Fetch loads a page. With fields set, only those document fields (plus
	// reference and version) are loaded.
	Fetch(ctx context.Context, reference string, fields ...string) (*model.Page, error)
	// Insert stores a new page at version 1, failing with ErrExists.
	Insert(ctx context.Context, page *model.Page) error
	// Put overwrites the whole page. A nil precondition overwrites blindly.
	Put(ctx context.Context, page *model.Page, pre *Precondition) error
	// ConditionalUpdate sets attrs and bumps the version, returning the new one.
	ConditionalUpdate(ctx context.Context, reference string, attrs Attributes, pre Precondition) (int64, error)
	// Delete removes a page. A nil precondition deletes blindly.
	Delete(ctx context.Context, reference string, pre *Precondition) error
	// Scan calls fn for every stored page, loading only fields.
	Scan(ctx context.Context, fields []string, fn func(*model.Page) error) error
}

// Field names shared by every implementation.
const (
	FieldReference = "reference"
	FieldVersion   = "version"
	FieldNonce     = "nonce"
	FieldSlots     = "slots"
	FieldUpdatedAt = "updated_at"
	FieldDateFrom  = "date_from"
	FieldDateTo    = "date_to"
)
