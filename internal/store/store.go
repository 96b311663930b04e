// Package store implements the persistent sibling-group store: the
// logical map morton -> node, split between a hot in-memory cache
// bounded by the memory governor and a cold keyed blob store.
package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/oocpc/engine/internal/memgov"
	"github.com/oocpc/engine/internal/morton"
	"github.com/oocpc/engine/internal/storage"
	"github.com/oocpc/engine/pkg/compression"
	"github.com/oocpc/engine/pkg/occerr"
	"github.com/oocpc/engine/pkg/utils"

	"github.com/oocpc/engine/internal/point"
)

// residentGroup wraps a Group with the bookkeeping the store and the
// memory governor need: a per-group lock (single writer per group,
// concurrent readers of distinct groups) and the byte size last
// accounted against the governor.
type residentGroup struct {
	mu        sync.Mutex
	group     *Group
	byteSize  int64
	store     *Store
}

// Release persists the group if dirty and evicts it from the hot
// cache. Implements memgov.Releasable.
func (rg *residentGroup) Release() (int64, error) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return rg.store.releaseLocked(rg)
}

// Store backs the logical map morton -> node with a hot cache and a
// cold blob store, keyed by parent Morton code.
type Store struct {
	layout     point.Layout
	backend    storage.Storage
	compressor compression.Compressor
	governor   *memgov.Governor
	logger     utils.Logger

	mu  sync.RWMutex
	hot map[morton.MediumCode]*residentGroup
}

// Config configures a Store.
type Config struct {
	Layout     point.Layout
	Backend    storage.Storage
	Compressor compression.Compressor
	Governor   *memgov.Governor
	Logger     utils.Logger
}

// New constructs a Store. If Compressor is nil, compression.Default()
// is used.
func New(cfg Config) *Store {
	compressor := cfg.Compressor
	if compressor == nil {
		compressor = compression.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Store{
		layout:     cfg.Layout,
		backend:    cfg.Backend,
		compressor: compressor,
		governor:   cfg.Governor,
		logger:     logger,
		hot:        make(map[morton.MediumCode]*residentGroup),
	}
}

func keyFor(parentMorton morton.MediumCode) string {
	return strconv.FormatUint(uint64(parentMorton), 10)
}

// GroupKeyFor returns the sibling-group key holding code's node:
// code.Parent(), at slot code.Octant() within that group. For the root
// this is 0, a key no node's children use, so the root's singleton
// group never collides with the group of the root's own children,
// which is keyed by the root's code.
func GroupKeyFor(code morton.MediumCode) morton.MediumCode {
	return code.Parent()
}

// Get returns the resident sibling group for parentMorton, loading it
// from the cold store if necessary. Each present child's ChildrenMask
// is filled in by probing for a deeper group keyed by the child's own
// Morton code, since a node's own children_mask is never persisted
// directly (see Group.Encode).
func (s *Store) Get(ctx context.Context, parentMorton morton.MediumCode) (*Group, error) {
	rg, err := s.load(ctx, parentMorton)
	if err != nil {
		return nil, err
	}
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return rg.group, nil
}

// Prefetch enqueues a load of parentMorton without blocking the
// caller. Errors are logged and the group is left non-resident so a
// later Get retries.
func (s *Store) Prefetch(parentMorton morton.MediumCode) {
	go func() {
		if _, err := s.load(context.Background(), parentMorton); err != nil {
			s.logger.Warn("store: prefetch of group %d failed: %v", uint64(parentMorton), err)
		}
	}()
}

func (s *Store) load(ctx context.Context, parentMorton morton.MediumCode) (*residentGroup, error) {
	s.mu.RLock()
	rg, ok := s.hot[parentMorton]
	s.mu.RUnlock()
	if ok {
		if s.governor != nil {
			s.governor.Touch(rg)
		}
		return rg, nil
	}

	group, byteSize, err := s.readFromCold(ctx, parentMorton)
	if err != nil {
		return nil, err
	}

	if s.governor != nil {
		if err := s.governor.Allocate(byteSize); err != nil {
			return nil, err
		}
	}

	rg = &residentGroup{group: group, byteSize: byteSize, store: s}
	s.mu.Lock()
	if existing, ok := s.hot[parentMorton]; ok {
		s.mu.Unlock()
		if s.governor != nil {
			s.governor.Release(byteSize)
		}
		return existing, nil
	}
	s.hot[parentMorton] = rg
	s.mu.Unlock()

	if s.governor != nil {
		s.governor.Touch(rg)
	}
	return rg, nil
}

func (s *Store) readFromCold(ctx context.Context, parentMorton morton.MediumCode) (*Group, int64, error) {
	if s.backend == nil {
		return nil, 0, occerr.New(occerr.CodeNotFound, fmt.Sprintf("group %d not found: no backend configured", uint64(parentMorton)))
	}
	key := keyFor(parentMorton)
	exists, err := s.backend.Exists(ctx, key)
	if err != nil {
		return nil, 0, occerr.Wrap(occerr.CodeStoreIO, "checking group existence", err)
	}
	if !exists {
		return nil, 0, occerr.New(occerr.CodeNotFound, fmt.Sprintf("group %d not found", uint64(parentMorton)))
	}

	rc, err := s.backend.Download(ctx, key)
	if err != nil {
		return nil, 0, occerr.Wrap(occerr.CodeStoreIO, "downloading group", err)
	}
	defer rc.Close()

	compressed, err := io.ReadAll(rc)
	if err != nil {
		return nil, 0, occerr.Wrap(occerr.CodeStoreIO, "reading group blob", err)
	}

	raw, err := s.compressor.Decompress(compressed)
	if err != nil {
		return nil, 0, occerr.Wrap(occerr.CodeStoreIO, "decompressing group blob", err)
	}

	group, err := DecodeGroup(raw, s.layout)
	if err != nil {
		return nil, 0, err
	}

	for i, n := range group.Nodes {
		if n == nil {
			continue
		}
		mask, err := s.peekChildrenMask(ctx, n.Code)
		if err != nil {
			return nil, 0, err
		}
		group.Nodes[i].ChildrenMask = mask
	}

	return group, group.ByteSize(s.layout), nil
}

// peekChildrenMask reads the children_mask header byte of the group
// keyed by code, without materializing its node blobs, to fill in a
// node's own ChildrenMask (which is never persisted on the node itself;
// see Group.Encode). Returns 0 if no such group exists (code is a
// leaf).
func (s *Store) peekChildrenMask(ctx context.Context, code morton.MediumCode) (uint8, error) {
	if s.backend == nil {
		return 0, nil
	}
	if rg, ok := s.resident(code); ok {
		rg.mu.Lock()
		defer rg.mu.Unlock()
		return rg.group.ChildrenMask, nil
	}

	key := keyFor(code)
	exists, err := s.backend.Exists(ctx, key)
	if err != nil {
		return 0, occerr.Wrap(occerr.CodeStoreIO, "probing child group", err)
	}
	if !exists {
		return 0, nil
	}

	rc, err := s.backend.Download(ctx, key)
	if err != nil {
		return 0, occerr.Wrap(occerr.CodeStoreIO, "downloading group header", err)
	}
	defer rc.Close()
	compressed, err := io.ReadAll(rc)
	if err != nil {
		return 0, occerr.Wrap(occerr.CodeStoreIO, "reading group blob", err)
	}
	raw, err := s.compressor.Decompress(compressed)
	if err != nil {
		return 0, occerr.Wrap(occerr.CodeStoreIO, "decompressing group blob", err)
	}
	if len(raw) < 9 {
		return 0, occerr.Newf(occerr.CodeStoreIO, "group header too short: %d bytes", len(raw))
	}
	return raw[8], nil
}

func (s *Store) resident(code morton.MediumCode) (*residentGroup, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rg, ok := s.hot[code]
	return rg, ok
}

// Put installs group in the hot cache, marking it dirty and accounting
// its bytes with the memory governor.
func (s *Store) Put(group *Group) error {
	byteSize := group.ByteSize(s.layout)
	if s.governor != nil {
		if err := s.governor.Allocate(byteSize); err != nil {
			return err
		}
	}
	rg := &residentGroup{group: group, byteSize: byteSize, store: s}
	group.Dirty = true

	s.mu.Lock()
	if old, ok := s.hot[group.ParentMorton]; ok {
		s.mu.Unlock()
		if s.governor != nil {
			s.governor.Release(byteSize)
		}
		old.mu.Lock()
		old.group = group
		old.group.Dirty = true
		old.mu.Unlock()
		return nil
	}
	s.hot[group.ParentMorton] = rg
	s.mu.Unlock()

	if s.governor != nil {
		s.governor.Touch(rg)
	}
	return nil
}

// Release flushes parentMorton's group to the cold store if dirty and
// evicts it from the hot cache. A no-op if the group is not resident.
// A failed flush is retried once before its error is returned; all
// other store errors are fatal to the operation.
func (s *Store) Release(parentMorton morton.MediumCode) error {
	s.mu.RLock()
	rg, ok := s.hot[parentMorton]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	rg.mu.Lock()
	defer rg.mu.Unlock()
	_, err := s.releaseLocked(rg)
	return err
}

// releaseLocked persists rg if dirty, removes it from the hot cache,
// and returns the bytes freed. Caller must hold rg.mu.
func (s *Store) releaseLocked(rg *residentGroup) (int64, error) {
	if rg.group.Dirty {
		err := s.flush(context.Background(), rg.group)
		if err != nil {
			err = s.flush(context.Background(), rg.group)
		}
		if err != nil {
			return 0, err
		}
		rg.group.Dirty = false
	}

	s.mu.Lock()
	delete(s.hot, rg.group.ParentMorton)
	s.mu.Unlock()

	if s.governor != nil {
		s.governor.Release(rg.byteSize)
	}
	return rg.byteSize, nil
}

func (s *Store) flush(ctx context.Context, group *Group) error {
	if s.backend == nil {
		return occerr.New(occerr.CodeStoreIO, "no backend configured for flush")
	}
	raw := group.Encode(s.layout)
	compressed, err := s.compressor.Compress(raw)
	if err != nil {
		return occerr.Wrap(occerr.CodeStoreIO, "compressing group blob", err)
	}
	if err := s.backend.Upload(ctx, keyFor(group.ParentMorton), bytes.NewReader(compressed)); err != nil {
		return occerr.Wrap(occerr.CodeStoreIO, "uploading group blob", err)
	}
	return nil
}

// Range returns an ordered iterator over parent Morton keys in
// [lo, hi], visiting the hot cache and the cold store without
// yielding duplicates.
func (s *Store) Range(ctx context.Context, lo, hi morton.MediumCode) ([]morton.MediumCode, error) {
	seen := make(map[morton.MediumCode]struct{})
	var keys []morton.MediumCode

	s.mu.RLock()
	for k := range s.hot {
		if k >= lo && k <= hi {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()

	if ls, ok := s.backend.(*storage.LocalStorage); ok {
		coldKeys, err := ls.ListKeys()
		if err != nil {
			return nil, occerr.Wrap(occerr.CodeStoreIO, "listing cold store keys", err)
		}
		for _, ck := range coldKeys {
			v, err := strconv.ParseUint(ck, 10, 64)
			if err != nil {
				continue
			}
			k := morton.MediumCode(v)
			if k < lo || k > hi {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

// FlushAll persists every dirty resident group without evicting it.
// Used at clean shutdown and by cancellation handling (§5): the whole
// operation must leave no dirty group behind.
func (s *Store) FlushAll(ctx context.Context) error {
	s.mu.RLock()
	groups := make([]*residentGroup, 0, len(s.hot))
	for _, rg := range s.hot {
		groups = append(groups, rg)
	}
	s.mu.RUnlock()

	for _, rg := range groups {
		rg.mu.Lock()
		if rg.group.Dirty {
			if err := s.flush(ctx, rg.group); err != nil {
				rg.mu.Unlock()
				return err
			}
			rg.group.Dirty = false
		}
		rg.mu.Unlock()
	}
	return nil
}
