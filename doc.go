// Package vault is an embedded, process-local, typed key-value storage
// engine with optional field-level encryption.
//
// An Engine owns one storage directory and two stores behind it: a
// consolidated single-file store that keeps every small record in memory
// and flushes debounced snapshots, and a per-record store that gives each
// external record its own file. Values are dynamically typed (nil, int64,
// float64, bool, string, bytes, and nested lists and maps) and are encoded
// by a versioned binary codec with whole-record bit rotation and optional
// payload compression.
//
// Access goes through key handles:
//
//	e := vault.New(vault.Options{})
//	if err := e.Init(ctx, dir); err != nil {
//		...
//	}
//	counter, _ := e.Key("counter")
//	_ = counter.Set(ctx, int64(42))
//	v, _ := counter.Get(ctx) // int64(42)
//
// Plain handles store values under their literal name. Secure handles hash
// the name into the physical id, keep the name off disk, and run values
// through the configured Encryptor. Either variant derives namespaced
// children with Sub.
//
// Writes to the same key are debounced and serialized in FIFO order; reads
// are always consistent with the latest accepted write. Read-path failures
// self-heal: the corrupt record is reported, removed, and treated as
// absent.
package vault
