package vault

// consolidated_store.go implements the single-file store that holds every
// internal (small) record fully in memory.
//
// Reads are synchronous in-memory lookups. Writes mutate the map
// immediately — a read right after a write is always consistent — and
// schedule a debounced save through the write coordinator under one shared
// id, so a burst of writes collapses into a single disk flush. The save
// serializes a snapshot taken at schedule time and persists it via
// temp-file-write-then-rename.
//
// File format: a sequence of [u32 length][encoded record] frames. The
// length prefixes are plain so corrupt trailing frames can be skipped
// without deobfuscation; each record buffer is bit-rotated by the codec.

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/zeebo/xxh3"

	"github.com/GeceGibi/vault/internal/codec"
	"github.com/GeceGibi/vault/internal/encoding"
	"github.com/GeceGibi/vault/internal/logging"
	"github.com/GeceGibi/vault/internal/vfs"
)

// consolidatedFileName is the backing file created under the engine root.
const consolidatedFileName = "consolidated.bin"

// flushID is the single shared coordinator id all flushes funnel through.
const flushID = "main"

// maxFrameLen bounds a single frame. A length prefix beyond this is
// corruption of the framing itself, not of one record.
const maxFrameLen = 64 << 20

type consolidatedStore struct {
	engine *Engine
	fs     vfs.FS
	log    logging.Logger
	path   string
	co     *writeCoordinator

	// mem is the authoritative record map. Mutated only through the write
	// path; read freely by the synchronous fast path.
	mem *xsync.MapOf[string, Record]

	// lastImage is the xxh3 of the last flushed file image. A flush whose
	// serialized image hashes identically is skipped.
	lastImage atomic.Uint64
}

func newConsolidatedStore(e *Engine) *consolidatedStore {
	return &consolidatedStore{
		engine: e,
		fs:     e.fs,
		log:    e.log,
		co:     newWriteCoordinator("consolidated flush", e.log, e.report),
		mem:    xsync.NewMapOf[string, Record](),
	}
}

// Init loads the backing file, creating it empty if absent. A catastrophic
// decode failure discards the file and starts from an empty map:
// availability is favored over durability of corrupted data.
func (s *consolidatedStore) Init(ctx context.Context, engine *Engine) error {
	s.path = filepath.Join(engine.root, consolidatedFileName)

	if !s.fs.Exists(s.path) {
		if err := vfs.WriteAtomic(s.fs, s.path, nil); err != nil {
			return fmt.Errorf("%w: create consolidated file: %w", ErrInit, err)
		}
		s.log.Infof(logging.NSConsolidated+"created empty backing file %s", s.path)
		return nil
	}

	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		s.engine.report(fmt.Errorf("%w: read consolidated file: %w", ErrInit, err))
		if err := s.fs.Remove(s.path); err != nil {
			return fmt.Errorf("%w: discard unreadable consolidated file: %w", ErrInit, err)
		}
		if err := vfs.WriteAtomic(s.fs, s.path, nil); err != nil {
			return fmt.Errorf("%w: recreate consolidated file: %w", ErrInit, err)
		}
		return nil
	}

	loaded, skipped := s.load(data)
	s.lastImage.Store(xxh3.Hash(data))
	s.log.Infof(logging.NSConsolidated+"loaded %d records (%d corrupt frames skipped)", loaded, skipped)
	return nil
}

// load decodes the frame sequence. Corrupt frames are skipped; a malformed
// length prefix ends the scan since framing can no longer be trusted.
func (s *consolidatedStore) load(data []byte) (loaded, skipped int) {
	r := encoding.NewSlice(data)
	for r.Remaining() > 0 {
		length, ok := r.GetFixed32()
		if !ok || length > maxFrameLen {
			s.engine.report(fmt.Errorf("%w: malformed consolidated frame length", ErrCorruption))
			return loaded, skipped + 1
		}
		frame, ok := r.GetBytes(int(length))
		if !ok {
			s.engine.report(fmt.Errorf("%w: truncated consolidated frame", ErrCorruption))
			return loaded, skipped + 1
		}
		rec := codec.Decode(frame)
		if rec == nil {
			skipped++
			continue
		}
		s.mem.Store(rec.ID, Record{ID: rec.ID, Name: rec.Name, Value: rec.Value, Flags: rec.Flags})
		loaded++
	}
	return loaded, skipped
}

// Read returns the value for id. Purely in-memory.
func (s *consolidatedStore) Read(ctx context.Context, id string) (any, error) {
	return s.ReadSync(id), nil
}

// ReadSync returns the value for id without coordination. O(1), no I/O.
func (s *consolidatedStore) ReadSync(id string) any {
	rec, ok := s.mem.Load(id)
	if !ok {
		return nil
	}
	return rec.Value
}

// Write stores rec in memory and schedules a debounced flush.
// Flush failures are reported through the sink; there is no caller left on
// the write path by the time the debounced save runs.
func (s *consolidatedStore) Write(ctx context.Context, rec Record) error {
	if rec.Value == nil {
		return s.Remove(ctx, rec.ID)
	}
	s.mem.Store(rec.ID, rec)
	s.scheduleFlush(s.engine.opts.FlushDelay)
	return nil
}

// Remove deletes the record for id, scheduling a flush only on change.
func (s *consolidatedStore) Remove(ctx context.Context, id string) error {
	if _, loaded := s.mem.LoadAndDelete(id); loaded {
		s.scheduleFlush(s.engine.opts.FlushDelay)
	}
	return nil
}

// Exists reports whether a record exists for id.
func (s *consolidatedStore) Exists(ctx context.Context, id string) (bool, error) {
	return s.ExistsSync(id), nil
}

// ExistsSync reports whether a record exists for id, without coordination.
func (s *consolidatedStore) ExistsSync(id string) bool {
	_, ok := s.mem.Load(id)
	return ok
}

// Keys returns every physical id in the store.
func (s *consolidatedStore) Keys() []string {
	keys := make([]string, 0, s.mem.Size())
	s.mem.Range(func(id string, _ Record) bool {
		keys = append(keys, id)
		return true
	})
	return keys
}

// RemoveKey is the registry-driven form of Remove.
func (s *consolidatedStore) RemoveKey(ctx context.Context, id string) error {
	return s.Remove(ctx, id)
}

// Clear removes every record and flushes immediately.
func (s *consolidatedStore) Clear(ctx context.Context) error {
	s.mem.Clear()
	out := s.scheduleFlush(0).wait(ctx)
	return out.err
}

// ClearRemovable removes every removable-flagged record, rescheduling a
// save only if something changed. Returns the removed ids.
func (s *consolidatedStore) ClearRemovable(ctx context.Context) ([]string, error) {
	var removed []string
	s.mem.Range(func(id string, rec Record) bool {
		if rec.Flags.Removable() {
			removed = append(removed, id)
		}
		return true
	})
	if len(removed) == 0 {
		return nil, nil
	}
	for _, id := range removed {
		s.mem.Delete(id)
	}
	s.scheduleFlush(s.engine.opts.FlushDelay)
	return removed, nil
}

// Header synthesizes a header from the in-memory record.
func (s *consolidatedStore) Header(id string) *Header {
	rec, ok := s.mem.Load(id)
	if !ok {
		return nil
	}
	kind, _ := codec.KindOf(rec.Value)
	return &Header{
		Version: codec.CurrentVersion,
		Flags:   rec.Flags,
		Kind:    kind,
		ID:      rec.ID,
		Name:    rec.Name,
	}
}

// Close flushes outstanding state and disposes the coordinator.
func (s *consolidatedStore) Close(ctx context.Context) error {
	if s.path == "" {
		// Init never completed; nothing to persist.
		s.co.close()
		return nil
	}
	out := s.scheduleFlush(0).wait(ctx)
	s.co.close()
	return out.err
}

// scheduleFlush snapshots the map now and queues the serialize-and-persist
// action behind the shared flush id. The snapshot is taken at schedule time
// so the persisted image can never contain a torn view of later writes;
// serialization itself runs on the coordinator goroutine, keeping CPU-bound
// encoding off the caller.
func (s *consolidatedStore) scheduleFlush(delay time.Duration) *pending {
	snapshot := make([]Record, 0, s.mem.Size())
	s.mem.Range(func(_ string, rec Record) bool {
		snapshot = append(snapshot, rec)
		return true
	})
	return s.co.run(flushID, func() error { return s.flush(snapshot) }, delay)
}

// flush serializes the snapshot and atomically replaces the backing file.
// Records are written in sorted id order so equal states produce identical
// images, which lets the xxh3 dedup skip no-op flushes.
func (s *consolidatedStore) flush(snapshot []Record) error {
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })

	var buf []byte
	for _, rec := range snapshot {
		frame, err := codec.Encode(rec.ID, rec.Name, rec.Value, rec.Flags,
			s.engine.opts.Compression, s.engine.opts.CompressionThreshold)
		if err != nil {
			// An unencodable record cannot be persisted; drop it from the
			// image rather than fail the whole flush.
			s.engine.report(fmt.Errorf("vault: encode consolidated record %q: %w", rec.ID, err))
			continue
		}
		buf = encoding.AppendFixed32(buf, uint32(len(frame)))
		buf = append(buf, frame...)
	}

	image := xxh3.Hash(buf)
	if image == s.lastImage.Load() {
		s.log.Debugf(logging.NSConsolidated + "image unchanged, skipping flush")
		return nil
	}

	if err := vfs.WriteAtomic(s.fs, s.path, buf); err != nil {
		return err
	}
	s.lastImage.Store(image)
	s.log.Debugf(logging.NSConsolidated+"flushed %d records (%d bytes)", len(snapshot), len(buf))
	return nil
}
