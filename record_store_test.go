package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GeceGibi/vault/internal/vfs"
)

const externalDir = "/data/keep/external"

func TestRecordStoreWriteReadRemove(t *testing.T) {
	fs := NewMemFS()
	e := newTestEngine(t, fs, nil)
	s := e.records
	ctx := context.Background()

	rec := Record{ID: "r1", Name: "r1", Value: []any{int64(1), "two"}}
	if err := s.Write(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if !fs.Exists(externalDir + "/r1") {
		t.Error("record file not written")
	}

	v, err := s.Read(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	list, ok := v.([]any)
	if !ok || len(list) != 2 || list[0] != int64(1) || list[1] != "two" {
		t.Errorf("Read = %v", v)
	}
	if got := s.ReadSync("r1"); got == nil {
		t.Error("ReadSync = nil")
	}

	if err := s.Remove(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if fs.Exists(externalDir + "/r1") {
		t.Error("record file survived Remove")
	}
	if v, _ := s.Read(ctx, "r1"); v != nil {
		t.Errorf("Read after Remove = %v", v)
	}
}

func TestRecordStoreUnsupportedValue(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	err := e.records.Write(context.Background(), Record{ID: "bad", Value: struct{}{}})
	if err == nil {
		t.Error("unsupported value should fail before scheduling")
	}
}

func TestRecordStoreHeaderCacheAcrossEngines(t *testing.T) {
	fs := NewMemFS()
	ctx := context.Background()

	e1 := newTestEngine(t, fs, nil)
	_ = e1.records.Write(ctx, Record{ID: "a", Name: "a", Value: "va", Flags: FlagRemovable})
	_ = e1.records.Write(ctx, Record{ID: "b", Name: "b", Value: int64(2)})
	_ = e1.Close(ctx)

	e2 := newTestEngine(t, fs, nil)
	s := e2.records

	// Existence and headers come from the init scan, no payload reads.
	if !s.ExistsSync("a") || !s.ExistsSync("b") || s.ExistsSync("c") {
		t.Error("header cache wrong after reload")
	}
	hdr := s.Header("a")
	if hdr == nil || !hdr.Flags.Removable() || hdr.Name != "a" {
		t.Errorf("Header(a) = %+v", hdr)
	}
	if v, _ := s.Read(ctx, "a"); v != "va" {
		t.Errorf("Read(a) = %v", v)
	}
}

func TestRecordStoreDebounceLastWins(t *testing.T) {
	base := NewMemFS()
	fs := vfs.NewFaultInjectionFS(base)
	e := newTestEngine(t, fs, func(o *Options) {
		o.WriteDelay = 40 * time.Millisecond
	})
	s := e.records
	ctx := context.Background()

	before := fs.RenameCount()
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		i := i
		go func() {
			results <- s.Write(ctx, Record{ID: "k", Name: "k", Value: int64(i)})
		}()
	}
	for i := 0; i < 10; i++ {
		if err := <-results; err != nil {
			t.Fatal(err)
		}
	}

	// The burst persists at most a couple of times, not ten.
	if got := fs.RenameCount() - before; got > 2 {
		t.Errorf("burst caused %d disk writes", got)
	}

	// Whatever won the race, the pending overlay and file agree.
	v, _ := s.Read(ctx, "k")
	if _, ok := v.(int64); !ok {
		t.Errorf("Read = %v (%T), want an int64", v, v)
	}
}

func TestRecordStorePendingOverlay(t *testing.T) {
	e := newTestEngine(t, nil, func(o *Options) {
		o.WriteDelay = 50 * time.Millisecond
	})
	s := e.records
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- s.Write(ctx, Record{ID: "k", Name: "k", Value: "pending"})
	}()

	// The value is visible immediately, before the debounce elapses.
	deadline := time.After(time.Second)
	for {
		if v := s.ReadSync("k"); v == "pending" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("pending write never became visible")
		case <-time.After(time.Millisecond):
		}
	}
	if !s.ExistsSync("k") {
		t.Error("ExistsSync = false for pending write")
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestRecordStoreCorruptFileSelfHeals(t *testing.T) {
	fs := NewMemFS()
	sink := &testSink{}
	ctx := context.Background()

	e1 := newTestEngine(t, fs, nil)
	_ = e1.records.Write(ctx, Record{ID: "x", Name: "x", Value: int64(123456)})
	_ = e1.Close(ctx)

	// Truncate the record so the header survives but the payload is gone.
	data, _ := fs.ReadFile(externalDir + "/x")
	if err := vfs.WriteAtomic(fs, externalDir+"/x", data[:8]); err != nil {
		t.Fatal(err)
	}

	e2 := newTestEngine(t, fs, func(o *Options) { o.ErrorSink = sink.report })
	v, err := e2.records.Read(ctx, "x")
	if err != nil || v != nil {
		t.Errorf("Read corrupt = (%v, %v), want (nil, nil)", v, err)
	}

	var sawCorruption bool
	for _, err := range sink.all() {
		if errors.Is(err, ErrCorruption) {
			sawCorruption = true
		}
	}
	if !sawCorruption {
		t.Error("corruption not reported")
	}
	if e2.records.ExistsSync("x") {
		t.Error("corrupt record still claimed to exist")
	}
}

func TestRecordStoreInitRemovesStaleTemp(t *testing.T) {
	fs := NewMemFS()
	if err := fs.MkdirAll(externalDir, 0755); err != nil {
		t.Fatal(err)
	}
	// A leftover of a crash between temp-write and rename.
	if err := vfs.WriteAtomic(fs, externalDir+"/orphan.tmp", []byte("partial")); err != nil {
		t.Fatal(err)
	}

	newTestEngine(t, fs, nil)
	if fs.Exists(externalDir + "/orphan.tmp") {
		t.Error("stale temp file survived init")
	}
}

func TestRecordStoreInitReportsMismatchedID(t *testing.T) {
	fs := NewMemFS()
	sink := &testSink{}
	ctx := context.Background()

	e1 := newTestEngine(t, fs, nil)
	_ = e1.records.Write(ctx, Record{ID: "orig", Name: "orig", Value: "v"})
	_ = e1.Close(ctx)

	// Copy the record under a different filename.
	data, _ := fs.ReadFile(externalDir + "/orig")
	if err := vfs.WriteAtomic(fs, externalDir+"/copied", data); err != nil {
		t.Fatal(err)
	}

	e2 := newTestEngine(t, fs, func(o *Options) { o.ErrorSink = sink.report })
	if e2.records.ExistsSync("copied") {
		t.Error("mismatched record entered the cache")
	}
	if len(sink.all()) == 0 {
		t.Error("mismatched id not reported")
	}
}

func TestRecordStoreClear(t *testing.T) {
	fs := NewMemFS()
	e := newTestEngine(t, fs, nil)
	s := e.records
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Write(ctx, Record{ID: id, Name: id, Value: id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if ids := s.Keys(); len(ids) != 0 {
		t.Errorf("Keys after Clear = %v", ids)
	}
	names, _ := fs.ListDir(externalDir)
	if len(names) != 0 {
		t.Errorf("files after Clear = %v", names)
	}
}

func TestRecordStoreWriteFailureSurfaces(t *testing.T) {
	base := NewMemFS()
	fs := vfs.NewFaultInjectionFS(base)
	sink := &testSink{}
	e := newTestEngine(t, fs, func(o *Options) { o.ErrorSink = sink.report })
	ctx := context.Background()

	fs.FailWrites(true)
	err := e.records.Write(ctx, Record{ID: "k", Name: "k", Value: "v"})
	if !errors.Is(err, vfs.ErrInjectedWriteError) {
		t.Fatalf("err = %v, want injected write error", err)
	}
	if len(sink.all()) == 0 {
		t.Error("write failure not reported through the sink")
	}

	// Recovery: clearing the fault lets the next write succeed.
	fs.FailWrites(false)
	if err := e.records.Write(ctx, Record{ID: "k", Name: "k", Value: "v"}); err != nil {
		t.Fatal(err)
	}
	if v, _ := e.records.Read(ctx, "k"); v != "v" {
		t.Errorf("Read = %v", v)
	}
}

func TestRecordStoreFailedWriteRollsBackHeaders(t *testing.T) {
	base := NewMemFS()
	fs := vfs.NewFaultInjectionFS(base)
	sink := &testSink{}
	e := newTestEngine(t, fs, func(o *Options) { o.ErrorSink = sink.report })
	s := e.records
	ctx := context.Background()

	// A failed first write must not leave the store claiming the record.
	fs.FailWrites(true)
	if err := s.Write(ctx, Record{ID: "k", Name: "k", Value: "v"}); err == nil {
		t.Fatal("write should fail")
	}
	if s.ExistsSync("k") {
		t.Error("ExistsSync = true after failed first write")
	}
	if v, _ := s.Read(ctx, "k"); v != nil {
		t.Errorf("Read after failed first write = %v", v)
	}
	if ids := s.Keys(); len(ids) != 0 {
		t.Errorf("Keys after failed first write = %v", ids)
	}

	// A failed overwrite keeps the previous record and its header intact.
	fs.FailWrites(false)
	if err := s.Write(ctx, Record{ID: "k", Name: "k", Value: "v1", Flags: FlagRemovable}); err != nil {
		t.Fatal(err)
	}
	fs.FailWrites(true)
	if err := s.Write(ctx, Record{ID: "k", Name: "k", Value: "v2"}); err == nil {
		t.Fatal("overwrite should fail")
	}
	if !s.ExistsSync("k") {
		t.Error("record vanished after failed overwrite")
	}
	hdr := s.Header("k")
	if hdr == nil || !hdr.Flags.Removable() {
		t.Errorf("Header after failed overwrite = %+v, want the prior header", hdr)
	}
	if v, _ := s.Read(ctx, "k"); v != "v1" {
		t.Errorf("Read after failed overwrite = %v, want v1", v)
	}
}
