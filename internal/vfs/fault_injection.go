// fault_injection.go wraps an FS and allows injecting errors, for testing
// recovery code and the atomic-replace guarantee.
package vfs

import (
	"errors"
	"io"
	"os"
	"sync"
)

var (
	// ErrInjectedWriteError is returned when a write error is injected.
	ErrInjectedWriteError = errors.New("vfs: injected write error")

	// ErrInjectedRenameError is returned when a rename error is injected.
	ErrInjectedRenameError = errors.New("vfs: injected rename error")

	// ErrInjectedReadError is returned when a read error is injected.
	ErrInjectedReadError = errors.New("vfs: injected read error")
)

// FaultInjectionFS wraps an FS and fails selected operations on demand.
// Injection flags may be toggled concurrently with filesystem use.
type FaultInjectionFS struct {
	base FS

	mu           sync.Mutex
	failWrites   bool
	failRenames  bool
	failReads    bool
	renameCount  int
	writeCount   int
	crashOnWrite bool // drop data instead of writing, simulating power loss
}

// NewFaultInjectionFS creates a new fault-injecting filesystem wrapper.
func NewFaultInjectionFS(base FS) *FaultInjectionFS {
	return &FaultInjectionFS{base: base}
}

// FailWrites toggles write-error injection.
func (fs *FaultInjectionFS) FailWrites(fail bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.failWrites = fail
}

// FailRenames toggles rename-error injection.
func (fs *FaultInjectionFS) FailRenames(fail bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.failRenames = fail
}

// FailReads toggles read-error injection.
func (fs *FaultInjectionFS) FailReads(fail bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.failReads = fail
}

// CrashOnWrite makes subsequent writes silently drop their data, simulating
// a process kill between temp-write and rename.
func (fs *FaultInjectionFS) CrashOnWrite(crash bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.crashOnWrite = crash
}

// RenameCount returns the number of successful renames.
func (fs *FaultInjectionFS) RenameCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.renameCount
}

// WriteCount returns the number of files successfully created.
func (fs *FaultInjectionFS) WriteCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writeCount
}

func (fs *FaultInjectionFS) Create(name string) (WritableFile, error) {
	fs.mu.Lock()
	failWrites, crash := fs.failWrites, fs.crashOnWrite
	fs.mu.Unlock()
	if failWrites {
		return nil, ErrInjectedWriteError
	}
	if crash {
		return discardFile{}, nil
	}
	f, err := fs.base.Create(name)
	if err != nil {
		return nil, err
	}
	fs.mu.Lock()
	fs.writeCount++
	fs.mu.Unlock()
	return f, nil
}

func (fs *FaultInjectionFS) Open(name string) (ReadableFile, error) {
	fs.mu.Lock()
	failReads := fs.failReads
	fs.mu.Unlock()
	if failReads {
		return nil, ErrInjectedReadError
	}
	return fs.base.Open(name)
}

func (fs *FaultInjectionFS) ReadFile(name string) ([]byte, error) {
	fs.mu.Lock()
	failReads := fs.failReads
	fs.mu.Unlock()
	if failReads {
		return nil, ErrInjectedReadError
	}
	return fs.base.ReadFile(name)
}

func (fs *FaultInjectionFS) Rename(oldname, newname string) error {
	fs.mu.Lock()
	failRenames := fs.failRenames
	fs.mu.Unlock()
	if failRenames {
		return ErrInjectedRenameError
	}
	if err := fs.base.Rename(oldname, newname); err != nil {
		return err
	}
	fs.mu.Lock()
	fs.renameCount++
	fs.mu.Unlock()
	return nil
}

func (fs *FaultInjectionFS) Remove(name string) error {
	return fs.base.Remove(name)
}

func (fs *FaultInjectionFS) RemoveAll(path string) error {
	return fs.base.RemoveAll(path)
}

func (fs *FaultInjectionFS) MkdirAll(path string, perm os.FileMode) error {
	return fs.base.MkdirAll(path, perm)
}

func (fs *FaultInjectionFS) Exists(name string) bool {
	return fs.base.Exists(name)
}

func (fs *FaultInjectionFS) ListDir(path string) ([]string, error) {
	return fs.base.ListDir(path)
}

func (fs *FaultInjectionFS) Lock(name string) (io.Closer, error) {
	return fs.base.Lock(name)
}

func (fs *FaultInjectionFS) SyncDir(path string) error {
	return fs.base.SyncDir(path)
}

// discardFile swallows all writes, simulating a file whose data never
// reached stable storage.
type discardFile struct{}

func (discardFile) Write(p []byte) (int, error) { return len(p), nil }
func (discardFile) Sync() error                 { return nil }
func (discardFile) Close() error                { return nil }
