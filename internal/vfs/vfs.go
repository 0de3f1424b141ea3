// Package vfs provides a virtual filesystem abstraction layer.
//
// This allows vault to:
//   - Use the real OS filesystem in production
//   - Use a memory filesystem for testing
//   - Use a fault-injection filesystem for crash testing
package vfs

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FS is the filesystem interface consumed by the stores.
type FS interface {
	// Create creates a new writable file.
	// If the file already exists, it is truncated.
	Create(name string) (WritableFile, error)

	// Open opens an existing file for reading.
	Open(name string) (ReadableFile, error)

	// ReadFile reads the entire named file.
	ReadFile(name string) ([]byte, error)

	// Rename atomically renames a file.
	Rename(oldname, newname string) error

	// Remove deletes a file.
	Remove(name string) error

	// RemoveAll removes a directory and all its contents.
	RemoveAll(path string) error

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm os.FileMode) error

	// Exists returns true if the file exists.
	Exists(name string) bool

	// ListDir lists file names in a directory.
	ListDir(path string) ([]string, error)

	// Lock acquires an exclusive lock on a file.
	// Returns a Locker that must be closed to release the lock.
	Lock(name string) (io.Closer, error)

	// SyncDir syncs a directory to ensure metadata changes are durable.
	// This is required after file rename to ensure the rename is durable.
	SyncDir(path string) error
}

// WritableFile is a file that can be written to.
type WritableFile interface {
	io.Writer
	io.Closer

	// Sync flushes the file contents to stable storage.
	Sync() error
}

// ReadableFile is a file that can be read sequentially.
type ReadableFile interface {
	io.Reader
	io.Closer
}

// osFS implements FS using the OS filesystem.
type osFS struct{}

// Default returns the default OS filesystem.
func Default() FS {
	return &osFS{}
}

func (fs *osFS) Create(name string) (WritableFile, error) {
	return os.Create(name)
}

func (fs *osFS) Open(name string) (ReadableFile, error) {
	return os.Open(name)
}

func (fs *osFS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (fs *osFS) Rename(oldname, newname string) error {
	return os.Rename(oldname, newname)
}

func (fs *osFS) Remove(name string) error {
	return os.Remove(name)
}

func (fs *osFS) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (fs *osFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (fs *osFS) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func (fs *osFS) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (fs *osFS) Lock(name string) (io.Closer, error) {
	return lockFile(name)
}

func (fs *osFS) SyncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	syncErr := dir.Sync()
	closeErr := dir.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// WriteAtomic writes data to name via temp-file-write-then-rename.
// A reader can only ever observe the fully-old or fully-new contents.
// The temp file is removed on failure.
func WriteAtomic(fs FS, name string, data []byte) error {
	tmp := name + ".tmp"
	f, err := fs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	if err := fs.Rename(tmp, name); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	return fs.SyncDir(filepath.Dir(name))
}

// -----------------------------------------------------------------------------
// In-memory filesystem (for tests)
// -----------------------------------------------------------------------------

// MemFS is an in-memory filesystem. Safe for concurrent use.
type MemFS struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]struct{}
}

// NewMem creates an empty in-memory filesystem.
func NewMem() *MemFS {
	return &MemFS{
		files: make(map[string][]byte),
		dirs:  make(map[string]struct{}),
	}
}

func (fs *MemFS) Create(name string) (WritableFile, error) {
	return &memWritableFile{fs: fs, name: name}, nil
}

func (fs *MemFS) Open(name string) (ReadableFile, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data, ok := fs.files[name]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &memReadableFile{data: buf}, nil
}

func (fs *MemFS) ReadFile(name string) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data, ok := fs.files[name]
	if !ok {
		return nil, &os.PathError{Op: "read", Path: name, Err: os.ErrNotExist}
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (fs *MemFS) Rename(oldname, newname string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data, ok := fs.files[oldname]
	if !ok {
		return &os.PathError{Op: "rename", Path: oldname, Err: os.ErrNotExist}
	}
	fs.files[newname] = data
	delete(fs.files, oldname)
	return nil
}

func (fs *MemFS) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; !ok {
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrNotExist}
	}
	delete(fs.files, name)
	return nil
}

func (fs *MemFS) RemoveAll(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	prefix := strings.TrimSuffix(path, "/") + "/"
	for name := range fs.files {
		if strings.HasPrefix(name, prefix) {
			delete(fs.files, name)
		}
	}
	for name := range fs.dirs {
		if name == path || strings.HasPrefix(name, prefix) {
			delete(fs.dirs, name)
		}
	}
	return nil
}

func (fs *MemFS) MkdirAll(path string, perm os.FileMode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for p := path; p != "." && p != "/" && p != ""; p = filepath.Dir(p) {
		fs.dirs[p] = struct{}{}
	}
	return nil
}

func (fs *MemFS) Exists(name string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; ok {
		return true
	}
	_, ok := fs.dirs[name]
	return ok
}

func (fs *MemFS) ListDir(path string) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.dirs[path]; !ok {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	prefix := strings.TrimSuffix(path, "/") + "/"
	var names []string
	for name := range fs.files {
		if strings.HasPrefix(name, prefix) && !strings.Contains(name[len(prefix):], "/") {
			names = append(names, name[len(prefix):])
		}
	}
	sort.Strings(names)
	return names, nil
}

func (fs *MemFS) Lock(name string) (io.Closer, error) {
	return nopCloser{}, nil
}

func (fs *MemFS) SyncDir(path string) error {
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// memWritableFile buffers writes and publishes the file on Close.
// Sync publishes the contents written so far, mirroring the durability
// point of a real file sync.
type memWritableFile struct {
	fs   *MemFS
	name string
	buf  []byte
}

func (f *memWritableFile) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}

func (f *memWritableFile) Sync() error {
	f.publish()
	return nil
}

func (f *memWritableFile) Close() error {
	f.publish()
	return nil
}

func (f *memWritableFile) publish() {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	buf := make([]byte, len(f.buf))
	copy(buf, f.buf)
	f.fs.files[f.name] = buf
}

type memReadableFile struct {
	data []byte
	pos  int
}

func (f *memReadableFile) Read(p []byte) (int, error) {
	if f.pos >= len(f.data) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.pos:])
	f.pos += n
	return n, nil
}

func (f *memReadableFile) Close() error { return nil }
