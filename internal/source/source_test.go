package source

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpicard/baac-enrich/internal/observability"
)

// Mini 2023 vintage: semicolon-separated, fully quoted, UTF-8 BOM, and the
// Accident_Id/agglo column names introduced by the 2022 files.
const caractCSV = "\uFEFF\"Accident_Id\";\"jour\";\"mois\";\"an\";\"hrmn\";\"dep\";\"com\";\"agglo\";\"lat\";\"long\"\n" +
	"\"202300000001\";\"15\";\"6\";\"2023\";\"02:10\";\"75\";\"101\";\"2\";\"48,8566\";\"2,3522\"\n" +
	"\"202300000002\";\"16\";\"6\";\"2023\";\"0930\";\"13\";\"001\";\"1\";\"43,2965\";\"5,3698\"\n"

const (
	lieuxCSV = "Num_Acc,catr,voie\n" +
		"202300000001,3,D19\n" +
		"202300000002,1,A7\n"

	vehiculesCSV = "Num_Acc,num_veh,catv\n" +
		"202300000001,A01,7\n" +
		"202300000001,B02,33\n" +
		"202300000002,A01,10\n"

	usagersCSV = "Num_Acc,num_veh,catu,grav,an_nais\n" +
		"202300000001,A01,1,2,1990\n" +
		"202300000002,A01,1,1,1985\n"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeYear(t *testing.T, root, year string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, year)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func defaultFiles() map[string]string {
	return map[string]string{
		"caracteristiques-2023.csv": caractCSV,
		"lieux-2023.csv":            lieuxCSV,
		"vehicules-2023.csv":        vehiculesCSV,
		"usagers-2023.csv":          usagersCSV,
	}
}

func newTestLoader(t *testing.T, dataDir string, sample int) *Loader {
	t.Helper()
	return NewLoader(dataDir, sample, observability.NewMetricsForTesting(), discardLogger())
}

func TestLoadYear(t *testing.T) {
	root := t.TempDir()
	writeYear(t, root, "2023", defaultFiles())

	data, err := newTestLoader(t, root, 0).LoadYear(2023)
	require.NoError(t, err)

	require.Len(t, data.Characteristics, 2)
	assert.Len(t, data.Locations, 2)
	assert.Len(t, data.Vehicles, 3)
	assert.Len(t, data.Persons, 2)

	first := data.Characteristics[0]
	assert.Equal(t, "202300000001", first["num_acc"], "Accident_Id and the BOM should both normalize away")
	assert.Equal(t, "2", first["agg"], "agglo should normalize to agg")
	assert.Equal(t, "48,8566", first["lat"])
	assert.Equal(t, "02:10", first["hrmn"])

	assert.Equal(t, "202300000001", data.Vehicles[0]["num_acc"])
	assert.Equal(t, "B02", data.Vehicles[1]["num_veh"])
}

func TestLoadYearSkipsMalformedRows(t *testing.T) {
	root := t.TempDir()
	files := defaultFiles()
	files["vehicules-2023.csv"] = "Num_Acc,num_veh,catv\n" +
		"202300000001,A01,7\n" +
		"brokenrow,onlytwo\n" +
		"202300000002,A01,10\n"
	writeYear(t, root, "2023", files)

	data, err := newTestLoader(t, root, 0).LoadYear(2023)
	require.NoError(t, err)
	assert.Len(t, data.Vehicles, 2, "the short row should be dropped, not fail the file")
	assert.Len(t, data.Characteristics, 2)
}

func TestLoadYearMissingRequiredColumn(t *testing.T) {
	root := t.TempDir()
	files := defaultFiles()
	files["caracteristiques-2023.csv"] = "Num_Acc,jour,mois,an\n202300000001,15,6,2023\n"
	writeYear(t, root, "2023", files)

	_, err := newTestLoader(t, root, 0).LoadYear(2023)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required columns")
	assert.Contains(t, err.Error(), "hrmn")
}

func TestLoadYearMissingFile(t *testing.T) {
	root := t.TempDir()
	files := defaultFiles()
	delete(files, "lieux-2023.csv")
	writeYear(t, root, "2023", files)

	_, err := newTestLoader(t, root, 0).LoadYear(2023)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no "lieux" file`)
}

func TestReadFileWindows1252(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "caracteristiques-2016.csv")
	content := "Num_Acc,an,mois,jour,hrmn,adr\n" +
		"201600000001,16,6,15,1830,Rue de la Libert\xe9\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rows, skipped, err := readFile(path, fileSpecs[0])
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, rows, 1)
	assert.Equal(t, "Rue de la Liberté", rows[0]["adr"])
}

func TestSniffRuneStraddlingBoundary(t *testing.T) {
	// A multibyte rune cut by the sniff window must not flag a valid UTF-8
	// file as Windows-1252.
	for name, straddle := range map[string]string{
		"two byte":  "é",
		"four byte": "🚗",
	} {
		t.Run(name, func(t *testing.T) {
			body := strings.Repeat("a", sniffSize-1) + straddle + "tail\n"
			path := filepath.Join(t.TempDir(), "caracteristiques-2023.csv")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close()

			_, enc, err := sniff(f)
			require.NoError(t, err)
			assert.Nil(t, enc, "boundary cut mistaken for a non-UTF-8 file")
		})
	}

	t.Run("invalid byte inside window", func(t *testing.T) {
		body := strings.Repeat("a", sniffSize/2) + "\xe9" + strings.Repeat("b", sniffSize)
		path := filepath.Join(t.TempDir(), "caracteristiques-2016.csv")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()

		_, enc, err := sniff(f)
		require.NoError(t, err)
		assert.NotNil(t, enc, "genuine legacy bytes must still switch the decoder")
	})
}

func TestSampleBudgetSpansYears(t *testing.T) {
	root := t.TempDir()
	writeYear(t, root, "2022", map[string]string{
		"caracteristiques-2022.csv": "Num_Acc,an,mois,jour,hrmn\n202200000001,2022,1,1,1200\n202200000002,2022,1,2,1300\n",
		"lieux-2022.csv":            "Num_Acc\n202200000001\n",
		"vehicules-2022.csv":        "Num_Acc\n202200000001\n",
		"usagers-2022.csv":          "Num_Acc\n202200000001\n",
	})
	writeYear(t, root, "2023", defaultFiles())

	l := newTestLoader(t, root, 3)

	y2022, err := l.LoadYear(2022)
	require.NoError(t, err)
	assert.Len(t, y2022.Characteristics, 2, "budget of 3 covers the whole first year")

	y2023, err := l.LoadYear(2023)
	require.NoError(t, err)
	assert.Len(t, y2023.Characteristics, 1, "only one slot left in the budget")

	again, err := l.LoadYear(2023)
	require.NoError(t, err)
	assert.Empty(t, again.Characteristics, "exhausted budget skips the year entirely")
}

func TestSampleTruncationTrimsChildRows(t *testing.T) {
	root := t.TempDir()
	writeYear(t, root, "2023", map[string]string{
		"caracteristiques-2023.csv": "Num_Acc,an,mois,jour,hrmn\n" +
			"202300000001,2023,1,1,1200\n" +
			"202300000002,2023,1,2,1300\n",
		"lieux-2023.csv": "Num_Acc,catr\n202300000001,3\n202300000002,1\n",
		"vehicules-2023.csv": "Num_Acc,num_veh\n" +
			"202300000001,A01\n" +
			"202300000002,A01\n" + // sampled out, must not surface as an orphan
			"202300000099,A01\n" + // orphan in the full publication
			",B01\n", // no key
		"usagers-2023.csv": "Num_Acc,catu\n202300000002,1\n",
	})

	data, err := newTestLoader(t, root, 1).LoadYear(2023)
	require.NoError(t, err)

	require.Len(t, data.Characteristics, 1)
	require.Len(t, data.Locations, 1)
	assert.Equal(t, "202300000001", data.Locations[0]["num_acc"])
	assert.Empty(t, data.Persons, "children of sampled-out accidents are trimmed")

	var keys []string
	for _, row := range data.Vehicles {
		keys = append(keys, row["num_acc"])
	}
	assert.Equal(t, []string{"202300000001", "202300000099", ""}, keys,
		"genuine orphans and keyless rows stay for the join to count")
}

func TestYears(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"2021", "2019", "2023", "cache", "1999"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}
	// A plain file named like a year must not count.
	require.NoError(t, os.WriteFile(filepath.Join(root, "2020"), []byte("x"), 0o644))

	years, err := newTestLoader(t, root, 0).Years()
	require.NoError(t, err)
	assert.Equal(t, []int{2019, 2021, 2023}, years)
}

func TestYearsUnreadableDir(t *testing.T) {
	_, err := newTestLoader(t, filepath.Join(t.TempDir(), "absent"), 0).Years()
	require.Error(t, err)
}
