// Command zdb is a small CLI over pkg/tsdb: create a series, append a
// sample, or scan a series from its first sample to its last.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"github.com/asmuth-labs/zdb/pkg/tsdb"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "create-series":
		cmdCreateSeries(os.Args[2:])
	case "append":
		cmdAppend(os.Args[2:])
	case "scan":
		cmdScan(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: zdb <create-series|append|scan> [flags]")
}

func cmdCreateSeries(args []string) {
	fs := flag.NewFlagSet("create-series", flag.ExitOnError)
	path := fs.String("db", "", "database file path")
	seriesID := fs.Uint64("series", 0, "series id")
	valueSize := fs.Uint64("value-size", 8, "fixed value width in bytes")
	fs.Parse(args)

	db, err := tsdb.Open(*path, tsdb.ModeCreateIfMissing)
	must(err)
	defer db.Close()

	must(db.CreateSeries(*seriesID, *valueSize))
	fmt.Printf("created series %d (value_size=%d)\n", *seriesID, *valueSize)
}

func cmdAppend(args []string) {
	fs := flag.NewFlagSet("append", flag.ExitOnError)
	path := fs.String("db", "", "database file path")
	seriesID := fs.Uint64("series", 0, "series id")
	ts := fs.Uint64("ts", 0, "sample timestamp (microseconds)")
	value := fs.Uint64("value", 0, "sample value, little-endian encoded")
	fs.Parse(args)

	db, err := tsdb.Open(*path, tsdb.ModeReadWrite)
	must(err)
	defer db.Close()

	txn, err := db.Begin(*seriesID, false)
	must(err)

	buf := make([]byte, txn.ValueSize())
	enc := make([]byte, 8)
	binary.LittleEndian.PutUint64(enc, *value)
	copy(buf, enc)

	cur := tsdb.NewCursor(txn)
	if err := cur.Append(*ts, buf); err != nil {
		txn.Abort()
		fatal(err)
	}
	must(txn.Commit())
	fmt.Printf("appended (%d, %d) to series %d\n", *ts, *value, *seriesID)
}

func cmdScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	path := fs.String("db", "", "database file path")
	seriesID := fs.Uint64("series", 0, "series id")
	fs.Parse(args)

	db, err := tsdb.Open(*path, tsdb.ModeReadOnly)
	must(err)
	defer db.Close()

	txn, err := db.Begin(*seriesID, true)
	must(err)
	defer txn.Abort()

	cur := tsdb.NewCursor(txn)
	if !cur.SeekToFirst() {
		fmt.Println("(empty)")
		return
	}

	for {
		ts, val, ok := cur.Get()
		if !ok {
			break
		}
		fmt.Printf("%d\t%x\n", ts, val)
		if !cur.Next() {
			break
		}
	}
}

func must(err error) {
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
