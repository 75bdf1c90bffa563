// Package tagged parses element-per-record XML registry exports.
//
// Each element named by SourceConfig.RecordElement is one record. Its
// attributes and leaf children become fields; nested children are flattened
// by joining element names with "_" (<address><city>..</city></address>
// becomes "address_city").
package tagged

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/sources"
)

const (
	DefaultRecordElement = "record"
	maxDepth             = 8
)

type Parser struct{}

func New() *Parser { return &Parser{} }

func (p *Parser) Format() models.Format { return models.FormatTaggedHierarchical }

func (p *Parser) Parse(_ context.Context, r io.Reader, cfg *models.SourceConfig) iter.Seq2[models.IntermediateRecord, error] {
	recordElement := cfg.RecordElement
	if recordElement == "" {
		recordElement = DefaultRecordElement
	}

	return func(yield func(models.IntermediateRecord, error) bool) {
		dec := xml.NewDecoder(r)
		dec.Strict = true
		var charsetErr error
		dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
			out, err := charsetReader(charset, input)
			charsetErr = err
			return out, err
		}

		sawElement := false
		index := 0
		for {
			tok, err := dec.Token()
			if errors.Is(err, io.EOF) {
				if !sawElement {
					yield(models.IntermediateRecord{}, sources.Unsupported(cfg.ID, "empty document", nil))
				}
				return
			}
			if err != nil {
				if charsetErr != nil {
					yield(models.IntermediateRecord{}, sources.Unsupported(cfg.ID, "document charset", charsetErr))
					return
				}
				yield(models.IntermediateRecord{}, tokenError(cfg.ID, err, dec.InputOffset()))
				return
			}

			start, ok := tok.(xml.StartElement)
			if !ok {
				continue
			}
			sawElement = true
			if start.Name.Local != recordElement {
				continue
			}

			fields, recErr := readRecord(dec, start)
			if recErr != nil {
				var syn *xml.SyntaxError
				if errors.As(recErr, &syn) || !errors.Is(recErr, errMalformed) {
					yield(models.IntermediateRecord{}, tokenError(cfg.ID, recErr, dec.InputOffset()))
					return
				}
				if !yield(models.IntermediateRecord{}, sources.Malformed(cfg.ID, index, "record element", recErr)) {
					return
				}
				index++
				continue
			}
			if !yield(models.IntermediateRecord{SourceID: cfg.ID, Index: index, Fields: fields}, nil) {
				return
			}
			index++
		}
	}
}

var errMalformed = errors.New("malformed record")

// readRecord consumes tokens up to the matching end element. Structural
// problems inside a well-formed record return errMalformed so the caller can
// continue with the next record.
func readRecord(dec *xml.Decoder, start xml.StartElement) (map[string]string, error) {
	fields := make(map[string]string)
	var problem error
	for _, a := range start.Attr {
		if !isNamespaceDecl(a) {
			fields[a.Name.Local] = a.Value
		}
	}

	var path []string
	var text strings.Builder
	hasChild := []bool{false}

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			hasChild[len(hasChild)-1] = true
			path = append(path, t.Name.Local)
			hasChild = append(hasChild, false)
			text.Reset()
			if len(path) > maxDepth && problem == nil {
				problem = fmt.Errorf("%w: nesting deeper than %d", errMalformed, maxDepth)
			}
			for _, a := range t.Attr {
				if isNamespaceDecl(a) {
					continue
				}
				fields[strings.Join(append(path[:len(path):len(path)], a.Name.Local), "_")] = a.Value
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(path) == 0 {
				// End of the record element itself.
				if problem != nil {
					return nil, problem
				}
				if len(fields) == 0 {
					return nil, fmt.Errorf("%w: no fields", errMalformed)
				}
				return fields, nil
			}
			leaf := !hasChild[len(hasChild)-1]
			if leaf {
				key := strings.Join(path, "_")
				value := strings.TrimSpace(text.String())
				if prev, dup := fields[key]; dup && prev != value && problem == nil {
					problem = fmt.Errorf("%w: element %q repeated with different values", errMalformed, key)
				}
				fields[key] = value
			}
			path = path[:len(path)-1]
			hasChild = hasChild[:len(hasChild)-1]
			text.Reset()
		}
	}
}

func isNamespaceDecl(a xml.Attr) bool {
	return a.Name.Space == "xmlns" || a.Name.Local == "xmlns"
}

func tokenError(sourceID string, err error, offset int64) *sources.SourceError {
	var syn *xml.SyntaxError
	if errors.As(err, &syn) || errors.Is(err, io.ErrUnexpectedEOF) {
		return sources.Unsupported(sourceID, fmt.Sprintf("invalid document at offset %d", offset), err)
	}
	return sources.Unavailable(sourceID, "read document", err)
}

// charsetReader transcodes the single-byte encodings registries declare
// into UTF-8.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "utf-8", "utf8", "us-ascii", "ascii":
		return input, nil
	case "iso-8859-1", "iso8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "iso-8859-15", "latin9":
		return charmap.ISO8859_15.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	}
	return nil, fmt.Errorf("unsupported charset %q", charset)
}
