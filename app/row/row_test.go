package row

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawValue(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		wantKind Kind
		wantRaw  string
	}{
		{name: "plain text", input: "Mumbai", wantKind: Raw, wantRaw: "Mumbai"},
		{name: "trimmed", input: "  42 ", wantKind: Raw, wantRaw: "42"},
		{name: "blank", input: "   ", wantKind: Missing},
		{name: "null token", input: "NULL", wantKind: Missing},
		{name: "nan token", input: "NaN", wantKind: Missing},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := RawValue(tc.input)

			assert.Equal(t, tc.wantKind, v.Kind())
			raw, ok := v.Raw()
			assert.Equal(t, tc.wantKind == Raw, ok)
			assert.Equal(t, tc.wantRaw, raw)
		})
	}
}

func TestKnownValue(t *testing.T) {
	v := KnownValue(int64(7))
	typed, ok := v.Typed()
	assert.True(t, ok)
	assert.Equal(t, int64(7), typed)
	assert.Equal(t, "7", v.String())

	assert.True(t, KnownValue(nil).IsMissing())
}

func TestRowGetAbsentColumn(t *testing.T) {
	r := Row{Entity: Customers, Line: 2, Fields: map[string]Value{ColCity: RawValue("Pune")}}

	assert.Equal(t, "Pune", r.Get(ColCity).String())
	assert.True(t, r.Get(ColPhone).IsMissing())
}

func TestReasonOf(t *testing.T) {
	wrapped := fmt.Errorf("cleanse: %w", &MissingFieldError{Field: ColEmail})

	assert.Equal(t, ReasonMissingField, ReasonOf(wrapped))
	assert.Equal(t, ReasonDuplicateKey, ReasonOf(&DuplicateKeyError{Key: "order_item_id=1"}))
	assert.Equal(t, ReasonUnknown, ReasonOf(errors.New("boom")))
}

func TestNewRejection(t *testing.T) {
	rej := NewRejection(Sales, 9, "order_item_id=3", StateDroppedDuplicate, &DuplicateKeyError{Key: "order_item_id=3", FirstLine: 4})

	assert.Equal(t, ReasonDuplicateKey, rej.Reason)
	assert.Contains(t, rej.Message(), "first seen on line 4")

	res := Reject[int](rej)
	assert.False(t, res.Accepted())
	assert.Equal(t, 9, res.Line)
}

func TestSourceReadErrorUnwrap(t *testing.T) {
	err := &SourceReadError{Path: "sales_raw.csv", Err: ErrNoRows}

	assert.ErrorIs(t, err, ErrNoRows)
	assert.Contains(t, err.Error(), "sales_raw.csv")
}
