package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GeceGibi/vault/internal/codec"
	"github.com/GeceGibi/vault/internal/encoding"
	"github.com/GeceGibi/vault/internal/vfs"
)

const consolidatedPath = "/data/keep/consolidated.bin"

func TestConsolidatedInitCreatesEmptyFile(t *testing.T) {
	fs := NewMemFS()
	e := newTestEngine(t, fs, nil)

	if !fs.Exists(consolidatedPath) {
		t.Error("backing file not created on first init")
	}
	if ids := e.consolidated.Keys(); len(ids) != 0 {
		t.Errorf("Keys = %v, want empty", ids)
	}
}

func TestConsolidatedWriteReadRemove(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	s := e.consolidated
	ctx := context.Background()

	rec := Record{ID: "x", Name: "x", Value: int64(7)}
	if err := s.Write(ctx, rec); err != nil {
		t.Fatal(err)
	}

	// Read-after-write is immediate: the map mutates before the flush.
	if v, _ := s.Read(ctx, "x"); v != int64(7) {
		t.Errorf("Read = %v, want 7", v)
	}
	if !s.ExistsSync("x") {
		t.Error("ExistsSync = false after write")
	}
	if hdr := s.Header("x"); hdr == nil || hdr.Kind != codec.KindInt {
		t.Errorf("Header = %+v", hdr)
	}

	if err := s.Remove(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Read(ctx, "x"); v != nil {
		t.Errorf("Read after Remove = %v", v)
	}
	if hdr := s.Header("x"); hdr != nil {
		t.Errorf("Header after Remove = %+v", hdr)
	}
}

func TestConsolidatedFlushCoalesces(t *testing.T) {
	base := NewMemFS()
	fs := vfs.NewFaultInjectionFS(base)
	e := newTestEngine(t, fs, func(o *Options) {
		o.FlushDelay = 50 * time.Millisecond
	})
	s := e.consolidated
	ctx := context.Background()

	before := fs.RenameCount()
	for i := 0; i < 25; i++ {
		if err := s.Write(ctx, Record{ID: "burst", Name: "burst", Value: int64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	// One debounced flush covers the whole burst.
	out := s.scheduleFlush(0).wait(ctx)
	if out.err != nil {
		t.Fatal(out.err)
	}
	if got := fs.RenameCount() - before; got != 1 {
		t.Errorf("burst caused %d flushes, want 1", got)
	}
	if v, _ := s.Read(ctx, "burst"); v != int64(24) {
		t.Errorf("final value = %v, want 24", v)
	}
}

func TestConsolidatedIdenticalImageSkipsFlush(t *testing.T) {
	base := NewMemFS()
	fs := vfs.NewFaultInjectionFS(base)
	e := newTestEngine(t, fs, nil)
	s := e.consolidated
	ctx := context.Background()

	if err := s.Write(ctx, Record{ID: "k", Name: "k", Value: "v"}); err != nil {
		t.Fatal(err)
	}
	if out := s.scheduleFlush(0).wait(ctx); out.err != nil {
		t.Fatal(out.err)
	}

	before := fs.RenameCount()
	// Rewriting the same value produces an identical image; no disk write.
	if err := s.Write(ctx, Record{ID: "k", Name: "k", Value: "v"}); err != nil {
		t.Fatal(err)
	}
	if out := s.scheduleFlush(0).wait(ctx); out.err != nil {
		t.Fatal(out.err)
	}
	if got := fs.RenameCount() - before; got != 0 {
		t.Errorf("identical image flushed %d times, want 0", got)
	}
}

func TestConsolidatedReloadSkipsCorruptFrame(t *testing.T) {
	fs := NewMemFS()
	ctx := context.Background()
	sink := &testSink{}

	e1 := newTestEngine(t, fs, nil)
	_ = e1.consolidated.Write(ctx, Record{ID: "good", Name: "good", Value: "ok"})
	_ = e1.Close(ctx)

	// Append a frame of garbage with a valid length prefix.
	data, err := fs.ReadFile(consolidatedPath)
	if err != nil {
		t.Fatal(err)
	}
	garbage := []byte{0xba, 0xdb, 0xad, 0xba, 0xdb}
	data = encoding.AppendFixed32(data, uint32(len(garbage)))
	data = append(data, garbage...)
	if err := vfs.WriteAtomic(fs, consolidatedPath, data); err != nil {
		t.Fatal(err)
	}

	e2 := newTestEngine(t, fs, func(o *Options) { o.ErrorSink = sink.report })
	if v, _ := e2.consolidated.Read(ctx, "good"); v != "ok" {
		t.Errorf("good record = %v, want ok", v)
	}
}

func TestConsolidatedReloadStopsOnBadFraming(t *testing.T) {
	fs := NewMemFS()
	ctx := context.Background()
	sink := &testSink{}

	e1 := newTestEngine(t, fs, nil)
	_ = e1.consolidated.Write(ctx, Record{ID: "good", Name: "good", Value: "ok"})
	_ = e1.Close(ctx)

	// A length prefix pointing past the end of the file poisons the framing.
	data, _ := fs.ReadFile(consolidatedPath)
	data = encoding.AppendFixed32(data, 1<<30)
	if err := vfs.WriteAtomic(fs, consolidatedPath, data); err != nil {
		t.Fatal(err)
	}

	e2 := newTestEngine(t, fs, func(o *Options) { o.ErrorSink = sink.report })
	if v, _ := e2.consolidated.Read(ctx, "good"); v != "ok" {
		t.Errorf("records before the bad frame should survive, got %v", v)
	}

	var sawCorruption bool
	for _, err := range sink.all() {
		if errors.Is(err, ErrCorruption) {
			sawCorruption = true
		}
	}
	if !sawCorruption {
		t.Error("bad framing was not reported")
	}
}

func TestConsolidatedClearRemovable(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	s := e.consolidated
	ctx := context.Background()

	_ = s.Write(ctx, Record{ID: "keep", Name: "keep", Value: "k"})
	_ = s.Write(ctx, Record{ID: "tmp", Name: "tmp", Value: "t", Flags: FlagRemovable})

	removed, err := s.ClearRemovable(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != "tmp" {
		t.Errorf("removed = %v, want [tmp]", removed)
	}
	if !s.ExistsSync("keep") || s.ExistsSync("tmp") {
		t.Error("wrong records cleared")
	}

	// No removable records: nothing reported, nothing flushed.
	removed, err = s.ClearRemovable(ctx)
	if err != nil || removed != nil {
		t.Errorf("second ClearRemovable = (%v, %v)", removed, err)
	}
}

func TestConsolidatedUnreadableFileRecreated(t *testing.T) {
	base := NewMemFS()
	if err := base.MkdirAll("/data/keep", 0755); err != nil {
		t.Fatal(err)
	}
	if err := vfs.WriteAtomic(base, consolidatedPath, []byte("whatever")); err != nil {
		t.Fatal(err)
	}
	fs := vfs.NewFaultInjectionFS(base)
	fs.FailReads(true)

	sink := &testSink{}
	e := New(Options{FS: fs, Logger: DiscardLogger, ErrorSink: sink.report})
	err := e.Init(context.Background(), "/data")
	fs.FailReads(false)
	defer func() { _ = e.Close(context.Background()) }()

	// Init favors availability: the unreadable file is discarded and the
	// engine comes up empty.
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if len(sink.all()) == 0 {
		t.Error("unreadable file was not reported")
	}
	if ids := e.consolidated.Keys(); len(ids) != 0 {
		t.Errorf("Keys = %v, want empty", ids)
	}
}
