// Package main provides the vaultdump CLI tool for inspecting a vault
// storage directory.
//
// Usage:
//
//	vaultdump --dir=<path> [options]
//
// Commands:
//
//	list            List record ids and headers
//	dump            Decode and print every record
//	check           Verify that every record decodes cleanly
//
// The directory is the storage folder itself (the one holding
// consolidated.bin and external/), not its parent.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/GeceGibi/vault/internal/codec"
	"github.com/GeceGibi/vault/internal/encoding"
	"github.com/GeceGibi/vault/internal/vfs"
)

var (
	dirPath    = flag.String("dir", "", "Path to the storage directory (required)")
	command    = flag.String("command", "list", "Command: list, dump, check")
	hexOutput  = flag.Bool("hex", false, "Print byte values in hex")
	showSecure = flag.Bool("secure", false, "Include secure record payloads (printed as opaque bytes)")
	help       = flag.Bool("help", false, "Print help")
)

func main() {
	flag.Parse()

	if *help {
		printUsage()
		return
	}
	if *dirPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --dir flag is required")
		printUsage()
		os.Exit(1)
	}

	var err error
	switch *command {
	case "list":
		err = run(false)
	case "dump":
		err = run(true)
	case "check":
		err = check()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("vaultdump - vault storage directory inspection tool")
	fmt.Println()
	fmt.Println("Usage: vaultdump --dir=<path> [--command=list|dump|check] [options]")
	fmt.Println()
	flag.PrintDefaults()
}

// loadRecords reads every record in the directory: the consolidated file's
// frame sequence plus each file under external/. Undecodable entries are
// returned as errors keyed by their origin.
func loadRecords() (recs []*codec.Record, problems []string, err error) {
	fs := vfs.Default()

	consolidated := filepath.Join(*dirPath, "consolidated.bin")
	if fs.Exists(consolidated) {
		data, err := fs.ReadFile(consolidated)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", consolidated, err)
		}
		r := encoding.NewSlice(data)
		frame := 0
		for r.Remaining() > 0 {
			length, ok := r.GetFixed32()
			if !ok {
				problems = append(problems, "consolidated.bin: truncated frame length")
				break
			}
			buf, ok := r.GetBytes(int(length))
			if !ok {
				problems = append(problems, fmt.Sprintf("consolidated.bin: frame %d truncated", frame))
				break
			}
			rec := codec.Decode(buf)
			if rec == nil {
				problems = append(problems, fmt.Sprintf("consolidated.bin: frame %d undecodable", frame))
			} else {
				recs = append(recs, rec)
			}
			frame++
		}
	}

	external := filepath.Join(*dirPath, "external")
	if fs.Exists(external) {
		names, err := fs.ListDir(external)
		if err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", external, err)
		}
		for _, name := range names {
			if strings.HasSuffix(name, ".tmp") {
				problems = append(problems, "external/"+name+": stale temp file")
				continue
			}
			data, err := fs.ReadFile(filepath.Join(external, name))
			if err != nil {
				problems = append(problems, fmt.Sprintf("external/%s: %v", name, err))
				continue
			}
			rec := codec.Decode(data)
			if rec == nil {
				problems = append(problems, "external/"+name+": undecodable")
				continue
			}
			if rec.ID != name {
				problems = append(problems, fmt.Sprintf("external/%s: claims id %q", name, rec.ID))
			}
			recs = append(recs, rec)
		}
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, problems, nil
}

func run(withValues bool) error {
	recs, problems, err := loadRecords()
	if err != nil {
		return err
	}

	for _, rec := range recs {
		flags := ""
		if rec.Flags.Removable() {
			flags += "R"
		}
		if rec.Flags.Secure() {
			flags += "S"
		}
		fmt.Printf("%-32s v%d kind=%-6s flags=%-2s name=%q\n",
			rec.ID, rec.Version, rec.Kind, flags, rec.Name)

		if !withValues {
			continue
		}
		if rec.Flags.Secure() && !*showSecure {
			fmt.Println("  <secure payload omitted; pass --secure to print>")
			continue
		}
		fmt.Printf("  %s\n", formatValue(rec.Value))
	}

	for _, p := range problems {
		fmt.Printf("PROBLEM: %s\n", p)
	}
	fmt.Printf("%d records, %d problems\n", len(recs), len(problems))
	return nil
}

func check() error {
	recs, problems, err := loadRecords()
	if err != nil {
		return err
	}
	for _, p := range problems {
		fmt.Printf("PROBLEM: %s\n", p)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d problems across %d records", len(problems), len(recs))
	}

	consolidated := filepath.Join(*dirPath, "consolidated.bin")
	if data, err := vfs.Default().ReadFile(consolidated); err == nil {
		fmt.Printf("consolidated image: %d bytes, xxh3 %016x\n", len(data), xxh3.Hash(data))
	}
	fmt.Printf("OK: %d records decode cleanly\n", len(recs))
	return nil
}

func formatValue(v any) string {
	if b, ok := v.([]byte); ok {
		if *hexOutput {
			return hex.EncodeToString(b)
		}
		return fmt.Sprintf("%d bytes", len(b))
	}
	return fmt.Sprintf("%v", v)
}
