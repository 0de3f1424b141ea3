package vault

// options.go defines engine configuration.

import (
	"time"

	"github.com/GeceGibi/vault/internal/compression"
	"github.com/GeceGibi/vault/internal/logging"
	"github.com/GeceGibi/vault/internal/vfs"
)

// FS is the pluggable filesystem consumed by the stores.
type FS = vfs.FS

// Logger is the leveled printf-style logging interface.
type Logger = logging.Logger

// LogLevel controls DefaultLogger verbosity.
type LogLevel = logging.Level

// Log levels for NewLogger.
const (
	LogLevelError = logging.LevelError
	LogLevelWarn  = logging.LevelWarn
	LogLevelInfo  = logging.LevelInfo
	LogLevelDebug = logging.LevelDebug
)

// NewLogger creates a stderr logger with the given level.
func NewLogger(level LogLevel) Logger { return logging.NewDefaultLogger(level) }

// DiscardLogger drops all log output.
var DiscardLogger Logger = logging.Discard

// DefaultFS returns the OS filesystem.
func DefaultFS() FS { return vfs.Default() }

// NewMemFS returns an in-memory filesystem, useful for tests and for hosts
// that want a purely ephemeral engine.
func NewMemFS() FS { return vfs.NewMem() }

// Compression selects the payload compression algorithm for encoded records.
type Compression = compression.Type

// Supported payload compression algorithms.
const (
	CompressionNone   = compression.None
	CompressionSnappy = compression.Snappy
	CompressionLZ4    = compression.LZ4
	CompressionZstd   = compression.Zstd
)

// CompressionDisabled turns payload compression off. CompressionNone is the
// zero value of Compression and EnsureDefaults treats it as unset, so
// disabling needs this explicit sentinel. It never appears in encoded
// records; EnsureDefaults maps it to CompressionNone.
const CompressionDisabled = compression.Type(0xff)

// Default tuning values.
const (
	// DefaultFolderName is the storage directory created under the init path.
	DefaultFolderName = "keep"

	// DefaultFlushDelay is the consolidated store's write debounce, chosen
	// so a burst of writes collapses into one disk flush.
	DefaultFlushDelay = 150 * time.Millisecond

	// DefaultCompressionThreshold is the minimum payload size, in bytes,
	// considered for compression.
	DefaultCompressionThreshold = 128
)

// Options configures an Engine. The zero value is usable: EnsureDefaults
// fills in every unset field.
type Options struct {
	// FolderName is the directory created under the path given to Init.
	// Defaults to DefaultFolderName.
	FolderName string

	// FS is the filesystem backend. Defaults to the OS filesystem.
	FS FS

	// Logger receives engine diagnostics. Defaults to a WARN stderr logger.
	Logger Logger

	// Encryptor provides field-level encryption for secure keys.
	// Defaults to the XOR obfuscator, which is NOT secure; production use
	// requires an authenticated implementation such as NewAESGCM.
	Encryptor Encryptor

	// ErrorSink receives every internal error. Defaults to logging through
	// Logger at ERROR level.
	ErrorSink ErrorSink

	// FlushDelay debounces consolidated store flushes.
	// Defaults to DefaultFlushDelay.
	FlushDelay time.Duration

	// WriteDelay debounces per-record store writes. Zero (the default)
	// persists each write immediately, still serialized per id; a positive
	// delay collapses bursts of same-key writes into the last value.
	WriteDelay time.Duration

	// Compression is applied to record payloads at or above
	// CompressionThreshold bytes. The zero value (CompressionNone) means
	// unset and defaults to Snappy; use CompressionDisabled to turn
	// compression off.
	Compression Compression

	// CompressionThreshold is the minimum payload size considered for
	// compression. Defaults to DefaultCompressionThreshold; a negative
	// value also disables compression entirely.
	CompressionThreshold int
}

// EnsureDefaults returns a copy of o with all unset fields defaulted.
// A nil receiver yields the full default configuration.
func (o *Options) EnsureDefaults() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.FolderName == "" {
		opts.FolderName = DefaultFolderName
	}
	if opts.FS == nil {
		opts.FS = vfs.Default()
	}
	opts.Logger = logging.OrDefault(opts.Logger)
	if opts.Encryptor == nil {
		opts.Encryptor = NewXORCipher(defaultXORKey)
	}
	if opts.FlushDelay == 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	switch opts.Compression {
	case CompressionDisabled:
		opts.Compression = CompressionNone
	case CompressionNone:
		opts.Compression = CompressionSnappy
	}
	switch {
	case opts.CompressionThreshold < 0:
		opts.Compression = CompressionNone
		opts.CompressionThreshold = 0
	case opts.CompressionThreshold == 0:
		opts.CompressionThreshold = DefaultCompressionThreshold
	}
	return opts
}
