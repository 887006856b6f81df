package storage

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
)

type memoryRecord struct {
	version int64
	doc     map[string]json.RawMessage
}

// MemoryStore is an in-process Store. Documents are held as JSON so callers
// never share memory with stored pages.
type MemoryStore struct {
	mu    sync.Mutex
	pages map[string]memoryRecord
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pages: make(map[string]memoryRecord),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Fetch(_ context.Context, reference string, fields ...string) (*model.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.pages[reference]
	if !ok {
		return nil, ErrNotFound
	}
	return decodeDoc(rec, fields)
}

func (s *MemoryStore) Insert(_ context.Context, page *model.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pages[page.Reference]; ok {
		return ErrExists
	}
	now := s.now()
	page.CreatedAt, page.UpdatedAt = now, now
	doc, err := encodeDoc(page)
	if err != nil {
		return err
	}
	page.Version = 1
	s.pages[page.Reference] = memoryRecord{version: 1, doc: doc}
	return nil
}

func (s *MemoryStore) Put(_ context.Context, page *model.Page, pre *Precondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.pages[page.Reference]
	if pre != nil {
		if !exists {
			return ErrNotFound
		}
		if rec.version != pre.Version {
			return ErrConflict
		}
	}
	page.UpdatedAt = s.now()
	doc, err := encodeDoc(page)
	if err != nil {
		return err
	}
	page.Version = rec.version + 1
	s.pages[page.Reference] = memoryRecord{version: page.Version, doc: doc}
	return nil
}

func (s *MemoryStore) ConditionalUpdate(_ context.Context, reference string, attrs Attributes, pre Precondition) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.pages[reference]
	if !ok {
		return 0, ErrNotFound
	}
	if rec.version != pre.Version {
		return 0, ErrConflict
	}
	doc := make(map[string]json.RawMessage, len(rec.doc)+len(attrs)+1)
	for k, v := range rec.doc {
		doc[k] = v
	}
	for k, v := range withUpdatedAt(attrs, s.now()) {
		raw, err := json.Marshal(v)
		if err != nil {
			return 0, err
		}
		doc[k] = raw
	}
	rec = memoryRecord{version: rec.version + 1, doc: doc}
	s.pages[reference] = rec
	return rec.version, nil
}

func (s *MemoryStore) Delete(_ context.Context, reference string, pre *Precondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.pages[reference]
	if !ok {
		return ErrNotFound
	}
	if pre != nil && rec.version != pre.Version {
		return ErrConflict
	}
	delete(s.pages, reference)
	return nil
}

func (s *MemoryStore) Scan(ctx context.Context, fields []string, fn func(*model.Page) error) error {
	s.mu.Lock()
	refs := make([]string, 0, len(s.pages))
	for ref := range s.pages {
		refs = append(refs, ref)
	}
	s.mu.Unlock()
	sort.Strings(refs)

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.Fetch(ctx, ref, fields...)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

func encodeDoc(page *model.Page) (map[string]json.RawMessage, error) {
	b, err := json.Marshal(page)
	if err != nil {
		return nil, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	delete(doc, FieldVersion)
	return doc, nil
}

func decodeDoc(rec memoryRecord, fields []string) (*model.Page, error) {
	doc := rec.doc
	if len(fields) > 0 {
		doc = make(map[string]json.RawMessage, len(fields)+1)
		for k, v := range rec.doc {
			if k == FieldReference || slices.Contains(fields, k) {
				doc[k] = v
			}
		}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var page model.Page
	if err := json.Unmarshal(b, &page); err != nil {
		return nil, err
	}
	page.Version = rec.version
	return &page, nil
}

func withUpdatedAt(attrs Attributes, now time.Time) Attributes {
	out := make(Attributes, len(attrs)+1)
	for k, v := range attrs {
		if k == FieldReference || k == FieldVersion {
			continue
		}
		out[k] = v
	}
	out[FieldUpdatedAt] = now
	return out
}
