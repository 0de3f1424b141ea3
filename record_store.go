package vault

// record_store.go implements the per-record store: one physical file per
// external record, named by its physical id, under root/external.
//
// Init scans the directory once and reads only a bounded header prefix per
// file into an in-memory header cache, so existence checks and sub-key
// discovery never deserialize payloads. Read, write, and remove for a given
// id are routed through the write coordinator keyed by that id: no read
// observes a half-written file and no two writers race on the same file.
// Writes use temp-file-write-then-rename; a nil value write is a delete.
//
// A pending-write overlay (id -> record, sequence-guarded) keeps reads
// consistent with writes that are debounced or queued but not yet on disk.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/GeceGibi/vault/internal/codec"
	"github.com/GeceGibi/vault/internal/logging"
	"github.com/GeceGibi/vault/internal/vfs"
)

// externalDirName is the per-record directory created under the engine root.
const externalDirName = "external"

// tmpSuffix marks in-flight atomic writes. Files carrying it at init time
// are leftovers of a crash between temp-write and rename.
const tmpSuffix = ".tmp"

// pendingWrite is a scheduled but not yet persisted record.
type pendingWrite struct {
	rec Record
	seq uint64
}

type recordStore struct {
	engine *Engine
	fs     vfs.FS
	log    logging.Logger
	dir    string
	co     *writeCoordinator

	// headers caches id -> header for every record believed to exist,
	// updated at schedule time so discovery sees writes immediately.
	headers *xsync.MapOf[string, Header]

	// pending overlays values that are scheduled but not yet durable.
	pending *xsync.MapOf[string, pendingWrite]

	seq atomic.Uint64
}

func newRecordStore(e *Engine) *recordStore {
	return &recordStore{
		engine:  e,
		fs:      e.fs,
		log:     e.log,
		co:      newWriteCoordinator("record store", e.log, e.report),
		headers: xsync.NewMapOf[string, Header](),
		pending: xsync.NewMapOf[string, pendingWrite](),
	}
}

// Init creates the storage directory if needed and populates the header
// cache with a bounded prefix read per file.
func (s *recordStore) Init(ctx context.Context, engine *Engine) error {
	s.dir = filepath.Join(engine.root, externalDirName)
	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("%w: create external directory: %w", ErrInit, err)
	}

	names, err := s.fs.ListDir(s.dir)
	if err != nil {
		return fmt.Errorf("%w: scan external directory: %w", ErrInit, err)
	}

	cached, stale := 0, 0
	for _, name := range names {
		if strings.HasSuffix(name, tmpSuffix) {
			// Orphaned atomic-write leftovers; the rename never happened.
			_ = s.fs.Remove(filepath.Join(s.dir, name))
			stale++
			continue
		}
		hdr := s.readHeader(name)
		if hdr == nil {
			s.engine.report(fmt.Errorf("%w: unreadable record header %q", ErrCorruption, name))
			continue
		}
		if hdr.ID != name {
			s.engine.report(fmt.Errorf("%w: record %q claims id %q", ErrCorruption, name, hdr.ID))
			continue
		}
		s.headers.Store(hdr.ID, *hdr)
		cached++
	}
	s.log.Infof(logging.NSRecords+"cached %d record headers (%d stale temp files removed)", cached, stale)
	return nil
}

// readHeader performs the bounded prefix read for one file.
func (s *recordStore) readHeader(name string) *Header {
	f, err := s.fs.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, codec.HeaderPrefixLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil
	}
	return codec.DecodeHeader(buf[:n])
}

func (s *recordStore) filePath(id string) string {
	return filepath.Join(s.dir, id)
}

// Read returns the value for id, routed through the coordinator so it can
// never observe a half-written file. A pending write satisfies the read
// directly; an id absent from the header cache is absent, full stop.
func (s *recordStore) Read(ctx context.Context, id string) (any, error) {
	if pw, ok := s.pending.Load(id); ok {
		return pw.rec.Value, nil
	}
	if _, ok := s.headers.Load(id); !ok {
		return nil, nil
	}

	var value any
	out := s.co.run(id, func() error {
		value = s.readFile(id)
		return nil
	}, 0).wait(ctx)
	if out.err != nil {
		return nil, out.err
	}
	return value, nil
}

// ReadSync is the synchronous fast path: it bypasses the coordinator and
// performs a blocking file read. Safe because writes are atomic renames.
func (s *recordStore) ReadSync(id string) any {
	if pw, ok := s.pending.Load(id); ok {
		return pw.rec.Value
	}
	if _, ok := s.headers.Load(id); !ok {
		return nil
	}
	return s.readFile(id)
}

// readFile reads and decodes one record file. Corrupt contents self-heal:
// the error is reported, the file is deleted, and the caller sees absent.
func (s *recordStore) readFile(id string) any {
	data, err := s.fs.ReadFile(s.filePath(id))
	if err != nil {
		if !os.IsNotExist(err) {
			s.engine.report(fmt.Errorf("vault: read record %q: %w", id, err))
		}
		return nil
	}
	rec := codec.Decode(data)
	if rec == nil {
		s.engine.report(fmt.Errorf("%w: record file %q", ErrCorruption, id))
		s.headers.Delete(id)
		s.co.run(id, func() error {
			err := s.fs.Remove(s.filePath(id))
			if err != nil && !os.IsNotExist(err) {
				return err
			}
			return nil
		}, 0)
		return nil
	}
	return rec.Value
}

// Write schedules persistence for rec and waits for the outcome. A nil
// value is a delete; a superseded write resolves neutrally with no error.
// The header cache and pending overlay are updated at schedule time so a
// read immediately after a write is consistent.
func (s *recordStore) Write(ctx context.Context, rec Record) error {
	if rec.Value == nil {
		return s.Remove(ctx, rec.ID)
	}

	kind, ok := codec.KindOf(rec.Value)
	if !ok {
		return fmt.Errorf("vault: unsupported value type %T for record %q", rec.Value, rec.ID)
	}

	seq := s.seq.Add(1)
	prior, hadPrior := s.headers.Load(rec.ID)
	s.pending.Store(rec.ID, pendingWrite{rec: rec, seq: seq})
	s.headers.Store(rec.ID, Header{
		Version: codec.CurrentVersion,
		Flags:   rec.Flags,
		Kind:    kind,
		ID:      rec.ID,
		Name:    rec.Name,
	})

	out := s.co.run(rec.ID, func() error {
		defer s.clearPending(rec.ID, seq)
		buf, err := codec.Encode(rec.ID, rec.Name, rec.Value, rec.Flags,
			s.engine.opts.Compression, s.engine.opts.CompressionThreshold)
		if err == nil {
			err = vfs.WriteAtomic(s.fs, s.filePath(rec.ID), buf)
		}
		if err != nil {
			s.rollbackHeader(rec.ID, seq, prior, hadPrior)
		}
		return err
	}, s.engine.opts.WriteDelay).wait(ctx)
	return out.err
}

// clearPending drops the overlay entry unless a newer write replaced it.
func (s *recordStore) clearPending(id string, seq uint64) {
	s.pending.Compute(id, func(old pendingWrite, loaded bool) (pendingWrite, bool) {
		if !loaded || old.seq != seq {
			return old, !loaded
		}
		return old, true
	})
}

// rollbackHeader undoes the schedule-time header mutation after a failed
// persist, so the cache never claims a record that is not on disk. The
// undo happens under the pending entry for id and only while that entry
// still carries this write's sequence: a newer write or a remove has
// already replaced the header with its own truth and must not be clobbered.
func (s *recordStore) rollbackHeader(id string, seq uint64, prior Header, hadPrior bool) {
	s.pending.Compute(id, func(old pendingWrite, loaded bool) (pendingWrite, bool) {
		if loaded && old.seq == seq {
			if hadPrior {
				s.headers.Store(id, prior)
			} else {
				s.headers.Delete(id)
			}
		}
		return old, !loaded
	})
}

// Remove deletes the record file for id and waits for the outcome.
// Sharing the write debounce lane means a remove supersedes a still-pending
// write to the same id.
func (s *recordStore) Remove(ctx context.Context, id string) error {
	s.headers.Delete(id)
	s.pending.Delete(id)

	out := s.co.run(id, func() error {
		err := s.fs.Remove(s.filePath(id))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}, s.engine.opts.WriteDelay).wait(ctx)
	return out.err
}

// Exists reports whether a record exists for id.
func (s *recordStore) Exists(ctx context.Context, id string) (bool, error) {
	return s.ExistsSync(id), nil
}

// ExistsSync checks the caches only; no I/O.
func (s *recordStore) ExistsSync(id string) bool {
	if _, ok := s.pending.Load(id); ok {
		return true
	}
	_, ok := s.headers.Load(id)
	return ok
}

// Keys returns every physical id in the store.
func (s *recordStore) Keys() []string {
	keys := make([]string, 0, s.headers.Size())
	s.headers.Range(func(id string, _ Header) bool {
		keys = append(keys, id)
		return true
	})
	return keys
}

// RemoveKey is the registry-driven form of Remove.
func (s *recordStore) RemoveKey(ctx context.Context, id string) error {
	return s.Remove(ctx, id)
}

// Clear removes every record file, serialized per id.
func (s *recordStore) Clear(ctx context.Context) error {
	return s.removeAll(ctx, s.Keys())
}

// ClearRemovable iterates the header cache, not the filesystem, and deletes
// only removable-flagged records. Returns the removed ids.
func (s *recordStore) ClearRemovable(ctx context.Context) ([]string, error) {
	var removable []string
	s.headers.Range(func(id string, hdr Header) bool {
		if hdr.Flags.Removable() {
			removable = append(removable, id)
		}
		return true
	})
	if len(removable) == 0 {
		return nil, nil
	}
	return removable, s.removeAll(ctx, removable)
}

// removeAll schedules a coordinated delete per id, then waits for all.
func (s *recordStore) removeAll(ctx context.Context, ids []string) error {
	pendings := make([]*pending, 0, len(ids))
	for _, id := range ids {
		s.headers.Delete(id)
		s.pending.Delete(id)
		id := id
		p := s.co.run(id, func() error {
			err := s.fs.Remove(s.filePath(id))
			if err != nil && !os.IsNotExist(err) {
				return err
			}
			return nil
		}, 0)
		pendings = append(pendings, p)
	}

	var firstErr error
	for _, p := range pendings {
		if out := p.wait(ctx); out.err != nil && firstErr == nil {
			firstErr = out.err
		}
	}
	return firstErr
}

// Header returns the cached header, falling back to a bounded prefix read
// that repopulates the cache.
func (s *recordStore) Header(id string) *Header {
	if hdr, ok := s.headers.Load(id); ok {
		out := hdr
		return &out
	}
	hdr := s.readHeader(id)
	if hdr == nil {
		return nil
	}
	s.headers.Store(id, *hdr)
	return hdr
}

// Close disposes the coordinator, waiting for in-flight persistence.
func (s *recordStore) Close(ctx context.Context) error {
	s.co.close()
	return nil
}
