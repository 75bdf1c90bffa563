// Package delimited parses header-row delimited text (CSV, TSV, pipe-separated).
package delimited

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/sources"
)

const utf8BOM = "\ufeff"

type Parser struct{}

func New() *Parser { return &Parser{} }

func (p *Parser) Format() models.Format { return models.FormatDelimitedText }

// Parse reads the header row, then yields one record per line. A row whose
// column count differs from the header is malformed; parsing continues.
func (p *Parser) Parse(_ context.Context, r io.Reader, cfg *models.SourceConfig) iter.Seq2[models.IntermediateRecord, error] {
	return func(yield func(models.IntermediateRecord, error) bool) {
		cr := csv.NewReader(r)
		if cfg.Delimiter != 0 {
			cr.Comma = cfg.Delimiter
		}
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = true
		cr.ReuseRecord = false

		header, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				yield(models.IntermediateRecord{}, sources.Unsupported(cfg.ID, "empty payload", nil))
				return
			}
			yield(models.IntermediateRecord{}, readError(cfg.ID, err, "header"))
			return
		}
		columns, err := headerColumns(header)
		if err != nil {
			yield(models.IntermediateRecord{}, sources.Unsupported(cfg.ID, "invalid header", err))
			return
		}

		for index := 0; ; index++ {
			row, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var pe *csv.ParseError
				if errors.As(err, &pe) {
					if !yield(models.IntermediateRecord{}, malformed(cfg.ID, index, pe.StartLine, fmt.Sprintf("line %d", pe.Line), err)) {
						return
					}
					continue
				}
				yield(models.IntermediateRecord{}, readError(cfg.ID, err, "body"))
				return
			}
			if isBlank(row) {
				index--
				continue
			}
			line, _ := cr.FieldPos(0)
			if len(row) != len(columns) {
				msg := fmt.Sprintf("expected %d columns, got %d", len(columns), len(row))
				if !yield(models.IntermediateRecord{}, malformed(cfg.ID, index, line, msg, nil)) {
					return
				}
				continue
			}

			fields := make(map[string]string, len(columns))
			for i, col := range columns {
				fields[col] = row[i]
			}
			if !yield(models.IntermediateRecord{SourceID: cfg.ID, Index: index, Line: line, Fields: fields}, nil) {
				return
			}
		}
	}
}

func headerColumns(header []string) ([]string, error) {
	columns := make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		name := strings.TrimSpace(h)
		if name == "" {
			return nil, fmt.Errorf("column %d has no name", i+1)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		seen[key] = struct{}{}
		columns[i] = name
	}
	return columns, nil
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func malformed(sourceID string, index, line int, msg string, err error) *sources.SourceError {
	e := sources.Malformed(sourceID, index, msg, err)
	e.Line = line
	return e
}

func readError(sourceID string, err error, where string) *sources.SourceError {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return sources.Unsupported(sourceID, "unreadable "+where, err)
	}
	return sources.Unavailable(sourceID, "read "+where, err)
}
