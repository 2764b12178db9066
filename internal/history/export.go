package history

import (
	"bytes"
	"encoding/csv"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
)

// ContentType of the CSV artifact
const ContentType = "text/csv;charset=utf-8"

// Header is the fixed first row of every export
var Header = []string{"Waktu", "Suhu (°C)", "Kelembapan (%)", "Gas (ppm)"}

// Artifact is a rendered export ready for download
type Artifact struct {
	Name        string
	ContentType string
	Body        []byte
}

// FormatCSV renders rows with one decimal for temperature and humidity and
// none for gas. Records are joined by "\n" with no trailing newline.
func FormatCSV(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(Header); err != nil {
		return nil, err
	}
	for _, r := range rows {
		record := []string{
			r.Time,
			ToFixed(r.Temperature, 1),
			ToFixed(r.Humidity, 1),
			ToFixed(r.Gas, 0),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Filename is sensor-data-<YYYY-MM-DD>.csv for the UTC date of now
func Filename(now time.Time) string {
	return "sensor-data-" + now.UTC().Format("2006-01-02") + ".csv"
}

// Export renders rows as a CSV artifact. There is nothing to export when
// rows is empty.
func Export(rows []Row, now time.Time) (Artifact, error) {
	errFactory := errors.New()

	if len(rows) == 0 {
		return Artifact{}, errFactory.New(ErrEmptyExport)
	}

	body, err := FormatCSV(rows)
	if err != nil {
		return Artifact{}, errFactory.Wrap(ErrExportWrite, err)
	}

	return Artifact{
		Name:        Filename(now),
		ContentType: ContentType,
		Body:        body,
	}, nil
}

// ExportToDir writes a into dir and returns the file path
func ExportToDir(dir string, a Artifact) (string, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errFactory.Wrap(ErrExportWrite, err)
	}
	path := filepath.Join(dir, a.Name)
	if err := os.WriteFile(path, a.Body, 0o644); err != nil {
		return "", errFactory.Wrap(ErrExportWrite, err)
	}
	return path, nil
}

// ToFixed formats x with the given number of decimals. A value exactly
// halfway between two candidates rounds away from zero; otherwise the
// nearest decimal is taken.
func ToFixed(x float64, digits int) string {
	switch {
	case math.IsNaN(x):
		return "NaN"
	case math.IsInf(x, 1):
		return "Infinity"
	case math.IsInf(x, -1):
		return "-Infinity"
	}

	a := math.Abs(x)
	var s string
	if a >= 1e21 {
		s = strconv.FormatFloat(a, 'g', -1, 64)
	} else if tie, ok := roundTieUp(a, digits); ok {
		s = tie
	} else {
		s = strconv.FormatFloat(a, 'f', digits, 64)
	}

	// -0 prints without a sign
	if x < 0 {
		return "-" + s
	}
	return s
}

// roundTieUp handles a*10^digits having a fractional part of exactly one
// half, where strconv would round to even.
func roundTieUp(a float64, digits int) (string, bool) {
	const prec = 256

	pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	scaled := new(big.Float).SetPrec(prec).SetFloat64(a)
	scaled.Mul(scaled, new(big.Float).SetPrec(prec).SetInt(pow))

	whole, _ := scaled.Int(nil)
	frac := new(big.Float).SetPrec(prec).Sub(scaled, new(big.Float).SetPrec(prec).SetInt(whole))
	if frac.Cmp(big.NewFloat(0.5)) != 0 {
		return "", false
	}

	whole.Add(whole, big.NewInt(1))
	d := whole.String()
	if digits == 0 {
		return d, true
	}
	for len(d) <= digits {
		d = "0" + d
	}
	return d[:len(d)-digits] + "." + d[len(d)-digits:], true
}
