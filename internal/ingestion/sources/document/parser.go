// Package document parses JSON registry exports: either one top-level array of
// objects, or newline-delimited objects. Nested objects are flattened with "_".
package document

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/sources"
)

const maxLineBytes = 4 << 20

// Parser caches compiled record schemas by path.
type Parser struct {
	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

func New() *Parser {
	return &Parser{schemas: make(map[string]*jsonschema.Schema)}
}

func (p *Parser) Format() models.Format { return models.FormatStructuredDocument }

func (p *Parser) Parse(_ context.Context, r io.Reader, cfg *models.SourceConfig) iter.Seq2[models.IntermediateRecord, error] {
	return func(yield func(models.IntermediateRecord, error) bool) {
		schema, err := p.schema(cfg.SchemaPath)
		if err != nil {
			yield(models.IntermediateRecord{}, sources.Unsupported(cfg.ID, "record schema", err))
			return
		}

		br := bufio.NewReader(r)
		first, err := peekNonSpace(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				yield(models.IntermediateRecord{}, sources.Unsupported(cfg.ID, "empty payload", nil))
				return
			}
			yield(models.IntermediateRecord{}, sources.Unavailable(cfg.ID, "read payload", err))
			return
		}

		d := decoder{sourceID: cfg.ID, schema: schema, yield: yield}
		switch first {
		case '[':
			d.array(br)
		case '{':
			d.lines(br)
		default:
			yield(models.IntermediateRecord{}, sources.Unsupported(cfg.ID, fmt.Sprintf("unexpected leading byte %q", first), nil))
		}
	}
}

func (p *Parser) schema(path string) (*jsonschema.Schema, error) {
	if path == "" {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.schemas[path]; ok {
		return s, nil
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	s, err := c.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}
	p.schemas[path] = s
	return s, nil
}

type decoder struct {
	sourceID string
	schema   *jsonschema.Schema
	yield    func(models.IntermediateRecord, error) bool
	index    int
}

// array streams elements of a top-level array. A syntax error leaves the
// decoder unable to resynchronise, so it ends the sequence.
func (d *decoder) array(r io.Reader) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		d.yield(models.IntermediateRecord{}, sources.Unsupported(d.sourceID, "open array", err))
		return
	}
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			d.yield(models.IntermediateRecord{}, decodeError(d.sourceID, err))
			return
		}
		if !d.emit(raw) {
			return
		}
	}
	if _, err := dec.Token(); err != nil {
		d.yield(models.IntermediateRecord{}, decodeError(d.sourceID, err))
	}
}

// lines reads newline-delimited objects. Each line stands alone, so a bad
// line is malformed and the next one is still read.
func (d *decoder) lines(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !d.emit(append(json.RawMessage(nil), line...)) {
			return
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			d.yield(models.IntermediateRecord{}, sources.Unsupported(d.sourceID, "line exceeds limit", err))
			return
		}
		d.yield(models.IntermediateRecord{}, sources.Unavailable(d.sourceID, "read payload", err))
	}
}

func (d *decoder) emit(raw json.RawMessage) bool {
	index := d.index
	d.index++

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return d.yield(models.IntermediateRecord{}, sources.Malformed(d.sourceID, index, "invalid json", err))
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return d.yield(models.IntermediateRecord{}, sources.Malformed(d.sourceID, index, "record is not an object", nil))
	}
	if d.schema != nil {
		if err := d.schema.Validate(obj); err != nil {
			return d.yield(models.IntermediateRecord{}, sources.Malformed(d.sourceID, index, "schema validation", err))
		}
	}

	fields := make(map[string]string, len(obj))
	flatten("", obj, fields)
	return d.yield(models.IntermediateRecord{SourceID: d.sourceID, Index: index, Fields: fields}, nil)
}

func flatten(prefix string, obj map[string]any, out map[string]string) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
			// absent
		default:
			out[key] = scalar(val)
		}
	}
}

func scalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if item == nil {
				continue
			}
			parts = append(parts, scalar(item))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		b, _ := json.Marshal(val)
		return string(b)
	}
	return fmt.Sprint(v)
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case 0xEF:
			// UTF-8 byte order mark.
			if rest, err := br.Peek(2); err == nil && rest[0] == 0xBB && rest[1] == 0xBF {
				_, _ = br.Discard(2)
				continue
			}
			return b, nil
		}
		return b, br.UnreadByte()
	}
}

func decodeError(sourceID string, err error) *sources.SourceError {
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	if errors.As(err, &syn) || errors.As(err, &typ) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return sources.Unsupported(sourceID, "invalid document", err)
	}
	return sources.Unavailable(sourceID, "read payload", err)
}
