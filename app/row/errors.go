package row

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Reason is the data-quality code a rejection is counted under.
type Reason string

const (
	ReasonMalformedRecord       Reason = "MalformedRecord"
	ReasonMissingField          Reason = "MissingField"
	ReasonTypeCoercion          Reason = "TypeCoercion"
	ReasonInvalidValue          Reason = "InvalidValue"
	ReasonDuplicateKey          Reason = "DuplicateKey"
	ReasonDateOutOfRange        Reason = "DateOutOfRange"
	ReasonUnknownReference      Reason = "UnknownReference"
	ReasonOutOfOrderChange      Reason = "OutOfOrderChange"
	ReasonInconsistentOrder     Reason = "InconsistentOrder"
	ReasonComputedValueMismatch Reason = "ComputedValueMismatch"
	ReasonUnknown               Reason = "Unknown"
)

// Reasoner is implemented by every row-scoped error.
type Reasoner interface {
	Reason() Reason
}

// ReasonOf returns the reason code carried by err, or ReasonUnknown.
func ReasonOf(err error) Reason {
	var r Reasoner
	if errors.As(err, &r) {
		return r.Reason()
	}
	return ReasonUnknown
}

// ErrNoRows is wrapped by SourceReadError when a source has a header but no
// parseable records.
var ErrNoRows = errors.New("no parseable rows")

// SourceReadError aborts the run: the source could not be read at all.
type SourceReadError struct {
	Path string
	Err  error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("read source %s: %v", e.Path, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }

// MalformedRecordError is a record the source parser could not split into fields.
type MalformedRecordError struct {
	Err error
}

func (e *MalformedRecordError) Error() string  { return fmt.Sprintf("malformed record: %v", e.Err) }
func (e *MalformedRecordError) Unwrap() error  { return e.Err }
func (e *MalformedRecordError) Reason() Reason { return ReasonMalformedRecord }

type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string  { return fmt.Sprintf("missing required field %q", e.Field) }
func (e *MissingFieldError) Reason() Reason { return ReasonMissingField }

type TypeCoercionError struct {
	Field  string
	Value  string
	Target string
}

func (e *TypeCoercionError) Error() string {
	return fmt.Sprintf("field %q: cannot convert %q to %s", e.Field, e.Value, e.Target)
}
func (e *TypeCoercionError) Reason() Reason { return ReasonTypeCoercion }

type InvalidValueError struct {
	Field string
	Rule  string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("field %q fails rule %q", e.Field, e.Rule)
}
func (e *InvalidValueError) Reason() Reason { return ReasonInvalidValue }

// DuplicateKeyError marks a later row sharing a natural key with an earlier one.
type DuplicateKeyError struct {
	Key       string
	FirstLine int
	Owner     string
}

func (e *DuplicateKeyError) Error() string {
	if e.Owner != "" {
		return fmt.Sprintf("duplicate key %s: already owned by %s", e.Key, e.Owner)
	}
	return fmt.Sprintf("duplicate key %s: first seen on line %d", e.Key, e.FirstLine)
}
func (e *DuplicateKeyError) Reason() Reason { return ReasonDuplicateKey }

type DateOutOfRangeError struct {
	Date     time.Time
	Min, Max int
	// Gap is set when the date lies between seeded stretches of dim_date.
	Gap bool
}

func (e *DateOutOfRangeError) Error() string {
	if e.Gap {
		return fmt.Sprintf("date %s not seeded in dim_date", e.Date.Format(time.DateOnly))
	}
	return fmt.Sprintf("date %s outside calendar range [%d, %d]", e.Date.Format(time.DateOnly), e.Min, e.Max)
}
func (e *DateOutOfRangeError) Reason() Reason { return ReasonDateOutOfRange }

type UnknownReferenceError struct {
	Entity Entity
	Key    int64
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("unknown %s reference %d", e.Entity, e.Key)
}
func (e *UnknownReferenceError) Reason() Reason { return ReasonUnknownReference }

// OutOfOrderChangeError is a dimension change dated before the current
// version that does not match the history already recorded for that date.
type OutOfOrderChangeError struct {
	Key          int64
	Date         time.Time
	CurrentStart time.Time
}

func (e *OutOfOrderChangeError) Error() string {
	return fmt.Sprintf("change for %d dated %s precedes current version starting %s",
		e.Key, e.Date.Format(time.DateOnly), e.CurrentStart.Format(time.DateOnly))
}
func (e *OutOfOrderChangeError) Reason() Reason { return ReasonOutOfOrderChange }

type InconsistentOrderError struct {
	OrderID          int64
	Customer, Wanted int64
}

func (e *InconsistentOrderError) Error() string {
	return fmt.Sprintf("order %d belongs to customer %d, line names customer %d", e.OrderID, e.Wanted, e.Customer)
}
func (e *InconsistentOrderError) Reason() Reason { return ReasonInconsistentOrder }

type ComputedValueMismatchError struct {
	Key      string
	Computed decimal.Decimal
	Source   decimal.Decimal
}

func (e *ComputedValueMismatchError) Error() string {
	return fmt.Sprintf("line %s: total_amount %s does not match computed %s",
		e.Key, e.Source.StringFixed(2), e.Computed.StringFixed(2))
}
func (e *ComputedValueMismatchError) Reason() Reason { return ReasonComputedValueMismatch }

// IOTimeoutError is a source read or store write that exceeded its deadline
// after the bounded retries were spent.
type IOTimeoutError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *IOTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *IOTimeoutError) Unwrap() error { return e.Err }
