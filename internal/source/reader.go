package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/mpicard/baac-enrich/internal/domain"
)

// sniffSize is how much of a file is inspected to pick the separator and
// detect the character encoding before parsing starts.
const sniffSize = 64 * 1024

// readFile parses one CSV file into rows keyed by normalized header name.
// Rows that fail CSV parsing are skipped and counted rather than failing the
// file; the publication carries occasional stray lines.
func readFile(path string, spec fileSpec) (rows []domain.Row, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	sep, enc, err := sniff(f)
	if err != nil {
		return nil, 0, fmt.Errorf("sniff %s: %w", path, err)
	}

	var src io.Reader = f
	if enc != nil {
		src = enc.NewDecoder().Reader(f)
	}

	cr := csv.NewReader(src)
	cr.Comma = sep
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read header of %s: %w", path, err)
	}
	cols := normalizeHeader(header)
	if missing := missingColumns(cols, spec.required); len(missing) > 0 {
		return nil, 0, fmt.Errorf("%s: %s file is missing required columns %v", path, spec.name, missing)
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped++
				continue
			}
			return nil, skipped, fmt.Errorf("read %s: %w", path, err)
		}

		row := make(domain.Row, len(cols))
		for i, col := range cols {
			if i < len(rec) {
				row[col] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, skipped, nil
}

// sniff picks the CSV separator and character encoding from the first chunk
// of the file, then rewinds. BAAC files flip between comma and semicolon
// separators across years, and pre-2019 vintages are Windows-1252 encoded.
// A nil encoding means the file is already valid UTF-8.
func sniff(f *os.File) (sep rune, enc *charmap.Charmap, err error) {
	buf := make([]byte, sniffSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, nil, err
	}
	buf = buf[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, nil, err
	}

	line := buf
	if i := bytes.IndexByte(buf, '\n'); i >= 0 {
		line = buf[:i]
	}
	sep = ','
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		sep = ';'
	}

	sample := buf
	if n == sniffSize {
		// The read may stop mid-rune; trim a trailing partial rune so a
		// boundary cut never flags a valid UTF-8 file.
		cut := n
		for i := 1; i <= utf8.UTFMax && i <= n; i++ {
			if utf8.RuneStart(buf[n-i]) {
				if !utf8.FullRune(buf[n-i : n]) {
					cut = n - i
				}
				break
			}
		}
		sample = buf[:cut]
	}
	if !utf8.Valid(sample) {
		enc = charmap.Windows1252
	}
	return sep, enc, nil
}

// normalizeHeader lowercases header cells, strips a UTF-8 BOM from the first
// cell, and resolves vintage-specific column renames.
func normalizeHeader(cells []string) []string {
	cols := make([]string, len(cells))
	for i, h := range cells {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
		if canonical, ok := headerAliases[h]; ok {
			h = canonical
		}
		cols[i] = h
	}
	return cols
}

func missingColumns(cols, required []string) []string {
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c] = true
	}
	var missing []string
	for _, r := range required {
		if !have[r] {
			missing = append(missing, r)
		}
	}
	return missing
}
