// Command genbaac writes a synthetic BAAC year directory: the four CSV
// families with consistent accident keys, in the modern semicolon-separated,
// decimal-comma format. It exists so the pipeline can be exercised locally
// without downloading the real publication.
//
// Usage:
//
//	go run ./cmd/genbaac -out data/raw -year 2023 -accidents 200
//
// The output is deterministic for a given seed, so fixtures regenerate
// byte-identically.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Paris-ish bounding box keeps the synthetic coordinates plausible and close
// enough together that some accidents share an enrichment fingerprint.
const (
	minLat = 48.6
	maxLat = 49.0
	minLon = 2.1
	maxLon = 2.6
)

func main() {
	out := flag.String("out", "data/raw", "data root to write the year directory under")
	year := flag.Int("year", 2023, "publication year to generate")
	accidents := flag.Int("accidents", 200, "number of accidents")
	seed := flag.Int64("seed", 42, "RNG seed")
	flag.Parse()

	if err := run(*out, *year, *accidents, *seed); err != nil {
		log.Fatal(err)
	}
}

func run(out string, year, accidents int, seed int64) error {
	dir := filepath.Join(out, strconv.Itoa(year))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(seed))

	var chars, lieux, vehicules, usagers [][]string
	chars = append(chars, []string{"Num_Acc", "jour", "mois", "an", "hrmn", "lum", "dep", "com", "agg", "int", "atm", "col", "lat", "long"})
	lieux = append(lieux, []string{"Num_Acc", "catr", "voie", "circ", "nbv", "prof", "plan", "surf", "infra", "situ"})
	vehicules = append(vehicules, []string{"Num_Acc", "id_vehicule", "num_veh", "catv", "obs", "obsm", "choc", "manv"})
	usagers = append(usagers, []string{"Num_Acc", "id_vehicule", "num_veh", "place", "catu", "grav", "sexe", "an_nais", "trajet"})

	for i := 0; i < accidents; i++ {
		key := fmt.Sprintf("%d%08d", year, i+1)
		chars = append(chars, characteristicsRow(rng, key, year))

		lieux = append(lieux, locationRow(rng, key))

		nVeh := 1 + rng.Intn(3)
		for v := 0; v < nVeh; v++ {
			vehID := fmt.Sprintf("%s-%d", key, v+1)
			vehicules = append(vehicules, vehicleRow(rng, key, vehID, v+1))

			nUsr := 1 + rng.Intn(3)
			for u := 0; u < nUsr; u++ {
				usagers = append(usagers, personRow(rng, key, vehID, v+1, u+1, year))
			}
		}
	}

	files := map[string][][]string{
		fmt.Sprintf("caracteristiques-%d.csv", year): chars,
		fmt.Sprintf("lieux-%d.csv", year):            lieux,
		fmt.Sprintf("vehicules-%d.csv", year):        vehicules,
		fmt.Sprintf("usagers-%d.csv", year):          usagers,
	}
	for name, rows := range files {
		if err := writeCSV(filepath.Join(dir, name), rows); err != nil {
			return err
		}
		fmt.Printf("wrote %s (%d rows)\n", filepath.Join(dir, name), len(rows)-1)
	}
	return nil
}

func characteristicsRow(rng *rand.Rand, key string, year int) []string {
	lat := minLat + rng.Float64()*(maxLat-minLat)
	lon := minLon + rng.Float64()*(maxLon-minLon)
	return []string{
		key,
		strconv.Itoa(1 + rng.Intn(28)),
		strconv.Itoa(1 + rng.Intn(12)),
		strconv.Itoa(year),
		fmt.Sprintf("%02d:%02d", rng.Intn(24), rng.Intn(60)),
		strconv.Itoa(1 + rng.Intn(5)),
		"75",
		fmt.Sprintf("%03d", 101+rng.Intn(20)),
		strconv.Itoa(1 + rng.Intn(2)),
		strconv.Itoa(1 + rng.Intn(4)),
		strconv.Itoa(1 + rng.Intn(9)),
		strconv.Itoa(1 + rng.Intn(7)),
		decimalComma(lat),
		decimalComma(lon),
	}
}

func locationRow(rng *rand.Rand, key string) []string {
	return []string{
		key,
		strconv.Itoa(1 + rng.Intn(6)),
		strconv.Itoa(rng.Intn(200)),
		strconv.Itoa(1 + rng.Intn(4)),
		strconv.Itoa(1 + rng.Intn(4)),
		strconv.Itoa(1 + rng.Intn(4)),
		strconv.Itoa(1 + rng.Intn(4)),
		strconv.Itoa(1 + rng.Intn(9)),
		strconv.Itoa(rng.Intn(10)),
		strconv.Itoa(1 + rng.Intn(8)),
	}
}

func vehicleRow(rng *rand.Rand, key, vehID string, numVeh int) []string {
	return []string{
		key,
		vehID,
		fmt.Sprintf("%c%02d", 'A'+(numVeh-1)%26, numVeh),
		strconv.Itoa(1 + rng.Intn(50)),
		strconv.Itoa(rng.Intn(17)),
		strconv.Itoa(rng.Intn(10)),
		strconv.Itoa(rng.Intn(9)),
		strconv.Itoa(rng.Intn(26)),
	}
}

func personRow(rng *rand.Rand, key, vehID string, numVeh, place, year int) []string {
	return []string{
		key,
		vehID,
		fmt.Sprintf("%c%02d", 'A'+(numVeh-1)%26, numVeh),
		strconv.Itoa(place),
		strconv.Itoa(1 + rng.Intn(3)),
		strconv.Itoa(1 + rng.Intn(4)),
		strconv.Itoa(1 + rng.Intn(2)),
		strconv.Itoa(year - 18 - rng.Intn(60)),
		strconv.Itoa(rng.Intn(10)),
	}
}

// decimalComma formats a coordinate the way modern BAAC files do.
func decimalComma(v float64) string {
	return strings.Replace(strconv.FormatFloat(v, 'f', 5, 64), ".", ",", 1)
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = ';'
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
