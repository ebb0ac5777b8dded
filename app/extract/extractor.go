// Package extract reads raw customer, product and sales feeds into ordered,
// loosely typed rows. CSV files need a header row; JSON files may hold an
// array of objects or one object per line.
package extract

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fleximart/retail-etl/app/retry"
	"github.com/fleximart/retail-etl/app/row"
)

type Format int

const (
	FormatCSV Format = iota
	FormatJSON
)

// FormatFor picks the decoder from the file extension; anything that is not
// .json or .ndjson/.jsonl is read as CSV.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".ndjson", ".jsonl":
		return FormatJSON
	default:
		return FormatCSV
	}
}

// Source is one feed to extract.
type Source struct {
	Entity row.Entity
	Path   string
}

// Per-entity column aliases for feeds exported by older systems.
var aliases = map[row.Entity]map[string]string{
	row.Products: {
		"name": row.ColProductName,
	},
	row.Sales: {
		"transaction_id":   row.ColOrderID,
		"transaction_date": row.ColOrderDate,
		"line_id":          row.ColOrderItemID,
		"qty":              row.ColQuantity,
		"discount":         row.ColDiscountAmount,
	},
}

type Extractor struct {
	timeout time.Duration
	policy  retry.Policy
}

// New returns an extractor whose reads must finish within timeout. Opening a
// source is retried under policy.
func New(timeout time.Duration, policy retry.Policy) *Extractor {
	return &Extractor{timeout: timeout, policy: policy}
}

// Extract opens src and yields its rows in source order. The final pair is
// (zero row, *row.SourceReadError) when the source is unreadable or empty.
func (e *Extractor) Extract(ctx context.Context, src Source) iter.Seq2[row.Row, error] {
	return func(yield func(row.Row, error) bool) {
		r, err := e.Open(ctx, src)
		if err != nil {
			yield(row.Row{Entity: src.Entity}, err)
			return
		}
		defer r.Close()
		for rec, err := range r.Rows(ctx) {
			if !yield(rec, err) {
				return
			}
		}
	}
}

// Reader is an opened source positioned after its header.
type Reader struct {
	src     Source
	file    *os.File
	timeout time.Duration
	next    func() (map[string]row.Value, int, error)
}

// Open opens the source and reads its header. Nothing has been yielded yet,
// so a transient failure here is safe to retry.
func (e *Extractor) Open(ctx context.Context, src Source) (*Reader, error) {
	var r *Reader
	err := e.policy.Do(ctx, "open "+src.Path, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		opened, err := open(src)
		if err != nil {
			return err
		}
		r = opened
		return nil
	})
	if err != nil {
		var srcErr *row.SourceReadError
		var ioErr *row.IOTimeoutError
		if errors.As(err, &srcErr) || errors.As(err, &ioErr) {
			return nil, err
		}
		return nil, &row.SourceReadError{Path: src.Path, Err: err}
	}
	r.timeout = e.timeout
	return r, nil
}

func open(src Source) (*Reader, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, &row.SourceReadError{Path: src.Path, Err: err}
		}
		return nil, err
	}
	r := &Reader{src: src, file: f}
	switch FormatFor(src.Path) {
	case FormatJSON:
		err = r.initJSON(bufio.NewReader(f))
	default:
		err = r.initCSV(bufio.NewReader(f))
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) Close() error {
	return r.file.Close()
}

// Rows yields every record. Malformed records come back as row-scoped
// *row.MalformedRecordError and iteration continues; an unreadable stream,
// an empty source, or a read exceeding the timeout ends it.
func (r *Reader) Rows(ctx context.Context) iter.Seq2[row.Row, error] {
	return func(yield func(row.Row, error) bool) {
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		parsed := 0
		for {
			if err := ctx.Err(); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					err = &row.IOTimeoutError{Op: "read " + r.src.Path, Attempts: 1, Err: err}
				}
				yield(row.Row{Entity: r.src.Entity}, err)
				return
			}

			fields, line, err := r.next()
			if errors.Is(err, io.EOF) {
				break
			}
			var malformed *row.MalformedRecordError
			if errors.As(err, &malformed) {
				if !yield(row.Row{Entity: r.src.Entity, Line: line}, err) {
					return
				}
				continue
			}
			if err != nil {
				yield(row.Row{Entity: r.src.Entity, Line: line}, &row.SourceReadError{Path: r.src.Path, Err: err})
				return
			}

			parsed++
			if !yield(row.Row{Entity: r.src.Entity, Line: line, Fields: fields}, nil) {
				return
			}
		}

		if parsed == 0 {
			yield(row.Row{Entity: r.src.Entity}, &row.SourceReadError{Path: r.src.Path, Err: row.ErrNoRows})
		}
	}
}

func (r *Reader) initCSV(in io.Reader) error {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &row.SourceReadError{Path: r.src.Path, Err: errors.New("missing header row")}
	}
	if err != nil {
		return &row.SourceReadError{Path: r.src.Path, Err: fmt.Errorf("header: %w", err)}
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = r.column(h)
	}

	r.next = func() (map[string]row.Value, int, error) {
		rec, err := cr.Read()
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, parseErr.StartLine, &row.MalformedRecordError{Err: err}
			}
			return nil, 0, err
		}
		line, _ := cr.FieldPos(0)
		if len(rec) > len(cols) {
			return nil, line, &row.MalformedRecordError{Err: fmt.Errorf("%d fields, header has %d", len(rec), len(cols))}
		}
		fields := make(map[string]row.Value, len(cols))
		for i, col := range cols {
			if i < len(rec) {
				fields[col] = row.RawValue(rec[i])
			} else {
				fields[col] = row.MissingValue()
			}
		}
		return fields, line, nil
	}
	return nil
}

func (r *Reader) initJSON(in *bufio.Reader) error {
	first, err := peekNonSpace(in)
	if errors.Is(err, io.EOF) {
		return &row.SourceReadError{Path: r.src.Path, Err: row.ErrNoRows}
	}
	if err != nil {
		return &row.SourceReadError{Path: r.src.Path, Err: err}
	}

	dec := json.NewDecoder(in)
	dec.UseNumber()
	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return &row.SourceReadError{Path: r.src.Path, Err: err}
		}
	}

	index := 0
	r.next = func() (map[string]row.Value, int, error) {
		if first == '[' && !dec.More() {
			return nil, index, io.EOF
		}
		index++
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return nil, index, &row.MalformedRecordError{Err: err}
			}
			return nil, index, err
		}
		fields := make(map[string]row.Value, len(obj))
		for k, v := range obj {
			fields[r.column(k)] = jsonValue(v)
		}
		return fields, index, nil
	}
	return nil
}

func (r *Reader) column(name string) string {
	n := strings.TrimPrefix(name, "\ufeff")
	n = strings.ToLower(strings.TrimSpace(n))
	n = strings.NewReplacer(" ", "_", "-", "_").Replace(n)
	if alias, ok := aliases[r.src.Entity][n]; ok {
		return alias
	}
	return n
}

func jsonValue(v any) row.Value {
	switch t := v.(type) {
	case nil:
		return row.MissingValue()
	case string:
		return row.RawValue(t)
	case json.Number:
		return row.RawValue(t.String())
	case bool:
		return row.RawValue(strconv.FormatBool(t))
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return row.RawValue(fmt.Sprint(t))
		}
		return row.RawValue(string(b))
	}
}

func peekNonSpace(in *bufio.Reader) (byte, error) {
	for {
		b, err := in.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if err := in.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}
