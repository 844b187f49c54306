// Command spool-dump inspects the on-disk JSONL spool produced by Edge
// (internal/spool.Writer) without needing a running Worker. Point it at
// a spool directory to print every record it finds, in file order.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/signalcove/pixelwatch/internal/record"
)

func main() {
	dir := flag.String("dir", "./spool", "spool directory to scan")
	company := flag.String("company", "", "only print records for this company ID")
	pixel := flag.String("pixel", "", "only print records for this pixel ID")
	includeDone := flag.Bool("include-done", true, "also scan files the Worker has already replayed (.done suffix)")
	flag.Parse()

	entries, err := os.ReadDir(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spool-dump: reading %s: %v\n", *dir, err)
		os.Exit(1)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "spool_") {
			continue
		}
		if strings.HasSuffix(name, ".done") && !*includeDone {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)

	if len(files) == 0 {
		fmt.Printf("spool-dump: no spool files found in %s\n", *dir)
		return
	}

	total := 0
	malformed := 0
	matched := 0

	for _, name := range files {
		path := filepath.Join(*dir, name)
		n, m, k := dumpFile(path, *company, *pixel)
		total += n
		malformed += m
		matched += k
	}

	fmt.Println()
	fmt.Printf("=== %d file(s), %d record(s), %d malformed, %d matched filter ===\n", len(files), total, malformed, matched)
}

func dumpFile(path, company, pixel string) (total, malformed, matched int) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spool-dump: opening %s: %v\n", path, err)
		return
	}
	defer f.Close()

	fmt.Printf("--- %s ---\n", filepath.Base(path))

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		total++

		var rec record.TrackingRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			malformed++
			fmt.Printf("  line %d: malformed JSON: %v\n", lineNum, err)
			continue
		}

		if company != "" && rec.CompanyID != company {
			continue
		}
		if pixel != "" && rec.PixelID != pixel {
			continue
		}
		matched++

		fmt.Printf("  [%d] %s company=%s pixel=%s ip=%s path=%s qs_len=%d ua=%q\n",
			lineNum,
			rec.ReceivedAt.Format("2006-01-02T15:04:05.000Z"),
			rec.CompanyID,
			rec.PixelID,
			rec.IPAddress,
			rec.RequestPath,
			len(rec.QueryString),
			truncate(rec.UserAgent, 60),
		)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "spool-dump: reading %s: %v\n", path, err)
	}

	return
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
