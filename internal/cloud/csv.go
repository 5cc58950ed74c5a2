package cloud

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSVSource reads X,Y,Z(,classification) records. A header row naming the
// columns is optional; column order is fixed. This is the interchange format
// the rest of the toolchain writes, so round-trips are lossless apart from
// float formatting.
type CSVSource struct {
	r      *csv.Reader
	primed bool
	done   bool
}

// NewCSVSource wraps r in a batched point source.
func NewCSVSource(r io.Reader) *CSVSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	return &CSVSource{r: cr}
}

// Next implements Source, reading at most max records per call.
func (s *CSVSource) Next(ctx context.Context, max int) ([]Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}
	if max <= 0 {
		max = 1 << 20
	}
	batch := make([]Point, 0, min(max, 4096))
	for len(batch) < max {
		rec, err := s.r.Read()
		if err == io.EOF {
			s.done = true
			return batch, io.EOF
		}
		if err != nil {
			return batch, fmt.Errorf("read point record: %w", err)
		}
		if !s.primed {
			s.primed = true
			if isHeader(rec) {
				continue
			}
		}
		p, err := parseRecord(rec)
		if err != nil {
			return batch, err
		}
		batch = append(batch, p)
	}
	return batch, nil
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
	return err != nil
}

func parseRecord(rec []string) (Point, error) {
	if len(rec) < 3 {
		return Point{}, fmt.Errorf("point record needs at least 3 fields, got %d", len(rec))
	}
	var p Point
	var err error
	if p.X, err = strconv.ParseFloat(strings.TrimSpace(rec[0]), 64); err != nil {
		return Point{}, fmt.Errorf("parse X %q: %w", rec[0], err)
	}
	if p.Y, err = strconv.ParseFloat(strings.TrimSpace(rec[1]), 64); err != nil {
		return Point{}, fmt.Errorf("parse Y %q: %w", rec[1], err)
	}
	if p.Z, err = strconv.ParseFloat(strings.TrimSpace(rec[2]), 64); err != nil {
		return Point{}, fmt.Errorf("parse Z %q: %w", rec[2], err)
	}
	if len(rec) > 3 && strings.TrimSpace(rec[3]) != "" {
		c, err := strconv.ParseUint(strings.TrimSpace(rec[3]), 10, 8)
		if err != nil {
			return Point{}, fmt.Errorf("parse classification %q: %w", rec[3], err)
		}
		p.Classification = uint8(c)
	}
	return p, nil
}

// WriteCSV writes points as X,Y,Z,classification rows with a header.
func WriteCSV(w io.Writer, pts []Point) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"X", "Y", "Z", "classification"}); err != nil {
		return err
	}
	for _, p := range pts {
		rec := []string{
			strconv.FormatFloat(p.X, 'f', -1, 64),
			strconv.FormatFloat(p.Y, 'f', -1, 64),
			strconv.FormatFloat(p.Z, 'f', -1, 64),
			strconv.FormatUint(uint64(p.Classification), 10),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
