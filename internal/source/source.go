// Package source discovers and reads the per-year BAAC CSV publications.
//
// Each year directory carries four families of files (characteristics,
// locations, vehicles, persons) whose filenames, separators, encodings and
// even column names drift across vintages. The loader pins those quirks in
// one place: a declared table of logical families with a discovery keyword
// and the columns a usable file must carry, validated when the file is read.
package source

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mpicard/baac-enrich/internal/domain"
	"github.com/mpicard/baac-enrich/internal/observability"
)

// KeyColumn is the accident key column shared by all four file families.
const KeyColumn = "num_acc"

// fileSpec declares one logical file family: the filename keyword used for
// discovery and the columns a usable file must carry after normalization.
type fileSpec struct {
	name     string
	keyword  string
	required []string
}

var fileSpecs = []fileSpec{
	{name: "characteristics", keyword: "caract", required: []string{KeyColumn, "an", "mois", "jour", "hrmn"}},
	{name: "locations", keyword: "lieux", required: []string{KeyColumn}},
	{name: "vehicles", keyword: "vehicules", required: []string{KeyColumn}},
	{name: "persons", keyword: "usagers", required: []string{KeyColumn}},
}

// headerAliases maps columns that were renamed across publication vintages to
// their canonical names (the 2022 files renamed Num_Acc to Accident_Id).
var headerAliases = map[string]string{
	"accident_id": "num_acc",
	"agglo":       "agg",
}

// yearDir matches directory names like "2019"; the publication starts in 2005.
var yearDir = regexp.MustCompile(`^[12]0[0-9][0-9]$`)

// YearData holds the four row families of one publication year.
type YearData struct {
	Year            int
	Characteristics []domain.Row
	Locations       []domain.Row
	Vehicles        []domain.Row
	Persons         []domain.Row
}

// Loader reads BAAC year directories under a data root.
//
// Not safe for concurrent use: the sample budget is consumed across LoadYear
// calls in year order.
type Loader struct {
	dataDir    string
	sampling   bool
	sampleLeft int
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewLoader creates a Loader over dataDir. sampleSize caps the total number
// of characteristics rows loaded across all years; 0 disables sampling.
func NewLoader(dataDir string, sampleSize int, metrics *observability.Metrics, logger *slog.Logger) *Loader {
	return &Loader{
		dataDir:    dataDir,
		sampling:   sampleSize > 0,
		sampleLeft: sampleSize,
		logger:     logger,
		metrics:    metrics,
	}
}

// Years returns the publication years available under the data root, sorted
// ascending. An empty result means there is nothing to process; the caller
// decides whether that is fatal.
func (l *Loader) Years() ([]int, error) {
	entries, err := os.ReadDir(l.dataDir)
	if err != nil {
		return nil, fmt.Errorf("read data dir %s: %w", l.dataDir, err)
	}

	var years []int
	for _, e := range entries {
		if !e.IsDir() || !yearDir.MatchString(e.Name()) {
			continue
		}
		y, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

// LoadYear reads the four files of one year directory. Malformed rows are
// skipped and counted; a missing file or a file without its required columns
// fails the whole year.
func (l *Loader) LoadYear(year int) (*YearData, error) {
	data := &YearData{Year: year}
	if l.sampling && l.sampleLeft <= 0 {
		l.logger.Debug("sample budget exhausted, skipping year", "year", year)
		return data, nil
	}

	dir := filepath.Join(l.dataDir, strconv.Itoa(year))
	for _, spec := range fileSpecs {
		path, err := findFile(dir, spec.keyword)
		if err != nil {
			return nil, fmt.Errorf("year %d: %w", year, err)
		}
		rows, skipped, err := readFile(path, spec)
		if err != nil {
			return nil, fmt.Errorf("year %d: %w", year, err)
		}
		if skipped > 0 {
			l.metrics.JoinDroppedRows.WithLabelValues(spec.name, "malformed").Add(float64(skipped))
			l.logger.Warn("skipped malformed rows",
				"year", year, "source", spec.name, "file", filepath.Base(path), "rows", skipped)
		}

		switch spec.name {
		case "characteristics":
			data.Characteristics = rows
		case "locations":
			data.Locations = rows
		case "vehicles":
			data.Vehicles = rows
		case "persons":
			data.Persons = rows
		}
	}

	if l.sampling {
		if len(data.Characteristics) > l.sampleLeft {
			full := keySet(data.Characteristics)
			data.Characteristics = data.Characteristics[:l.sampleLeft]
			l.trimSampledChildren(data, keySet(data.Characteristics), full)
		}
		l.sampleLeft -= len(data.Characteristics)
	}

	l.logger.Info("year loaded",
		"year", year,
		"characteristics", len(data.Characteristics),
		"locations", len(data.Locations),
		"vehicles", len(data.Vehicles),
		"persons", len(data.Persons))
	return data, nil
}

// trimSampledChildren removes child rows whose accident was cut by the sample
// budget, so the join does not report them as orphans. Rows without a key and
// rows orphaned in the full publication pass through for the join to count
// under their real reason.
func (l *Loader) trimSampledChildren(data *YearData, kept, full map[string]bool) {
	families := []struct {
		name string
		rows *[]domain.Row
	}{
		{"locations", &data.Locations},
		{"vehicles", &data.Vehicles},
		{"persons", &data.Persons},
	}
	for _, fam := range families {
		rows := *fam.rows
		filtered := rows[:0]
		dropped := 0
		for _, row := range rows {
			key := row[KeyColumn]
			if key != "" && full[key] && !kept[key] {
				dropped++
				continue
			}
			filtered = append(filtered, row)
		}
		*fam.rows = filtered
		if dropped > 0 {
			l.metrics.JoinDroppedRows.WithLabelValues(fam.name, "sampled_out").Add(float64(dropped))
			l.logger.Debug("child rows outside the sample dropped",
				"year", data.Year, "source", fam.name, "rows", dropped)
		}
	}
}

// keySet collects the distinct key values of a row slice.
func keySet(rows []domain.Row) map[string]bool {
	set := make(map[string]bool, len(rows))
	for _, row := range rows {
		if k := row[KeyColumn]; k != "" {
			set[k] = true
		}
	}
	return set
}

// findFile locates the file in dir whose lowercased name contains the
// keyword. os.ReadDir sorts by name, so with several candidates the lexically
// first wins and reruns stay deterministic.
func findFile(dir, keyword string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if strings.HasSuffix(name, ".csv") && strings.Contains(name, keyword) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no %q file in %s", keyword, dir)
}
