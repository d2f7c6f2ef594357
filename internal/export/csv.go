// Package export writes acquisition data to CSV files, optionally
// compressed, with a checksum sidecar and a detached signature.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/maxiv-kitscontrols/albaem/internal/signer"
	"github.com/sirupsen/logrus"
)

// Result describes the files written by WriteCSV
type Result struct {
	Path          string
	ChecksumPath  string
	SignaturePath string
	SHA256        string
	Points        int
	Compression   Compression
}

// WriteCSV writes one row per point with a column per channel. The codec
// follows the extension of path. When s is not nil a detached signature is
// written to path.asc.
func WriteCSV(path string, data []models.ChannelData, s signer.Signer) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fileError(path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fileError(path, err)
	}
	defer f.Close()

	comp := CompressionFor(path)
	w, err := NewWriter(f, comp)
	if err != nil {
		return nil, fileError(path, err)
	}

	points, err := encode(w, data)
	if err != nil {
		w.Close()
		return nil, fileError(path, err)
	}
	if err := w.Close(); err != nil {
		return nil, fileError(path, err)
	}
	if err := f.Sync(); err != nil {
		return nil, fileError(path, err)
	}

	res := &Result{Path: path, Points: points, Compression: comp}

	if res.SHA256, err = FileSHA256(path); err != nil {
		return nil, fileError(path, err)
	}
	if res.ChecksumPath, err = writeChecksumFile(path, res.SHA256); err != nil {
		return nil, fileError(path, err)
	}

	if s != nil {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fileError(path, err)
		}
		sig, err := s.SignDetached(content)
		if err != nil {
			return nil, &models.AlbaEMError{Type: models.ErrSigning, Command: path, Err: err}
		}
		res.SignaturePath = path + ".asc"
		if err := os.WriteFile(res.SignaturePath, sig, 0644); err != nil {
			return nil, fileError(res.SignaturePath, err)
		}
	}

	logrus.Debugf("Wrote %d points to %s (%s)", points, path, comp)
	return res, nil
}

// ReadCSV loads a file written by WriteCSV
func ReadCSV(path string) ([]models.ChannelData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fileError(path, err)
	}
	defer f.Close()

	r, err := NewReader(f, CompressionFor(path))
	if err != nil {
		return nil, fileError(path, err)
	}
	defer r.Close()

	return decode(r)
}

func encode(w io.Writer, data []models.ChannelData) (int, error) {
	cw := csv.NewWriter(w)

	header := []string{"point"}
	for _, ch := range data {
		header = append(header, ch.Name)
	}
	if err := cw.Write(header); err != nil {
		return 0, err
	}

	points := models.Points(data)
	row := make([]string, len(data)+1)
	for i := 0; i < points; i++ {
		row[0] = strconv.Itoa(i)
		for j, ch := range data {
			row[j+1] = strconv.FormatFloat(ch.Values[i], 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return 0, err
		}
	}

	cw.Flush()
	return points, cw.Error()
}

func decode(r io.Reader) ([]models.ChannelData, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("missing header")
	}

	header := records[0]
	data := make([]models.ChannelData, len(header)-1)
	for i := range data {
		data[i].Name = header[i+1]
	}
	for n, rec := range records[1:] {
		for i := range data {
			v, err := strconv.ParseFloat(rec[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", n+1, err)
			}
			data[i].Values = append(data[i].Values, v)
		}
	}
	return data, nil
}

func fileError(path string, err error) error {
	return &models.AlbaEMError{Type: models.ErrFileOp, Command: path, Err: err}
}
