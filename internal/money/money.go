package money

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// Amount is a fixed-point decimal for balances and per-second rates.
//
// Money invariants:
// - Never use binary floats for balances or charges.
// - Totals must be recomputed (duration * rate), not accumulated, to avoid drift.
//
// The zero value is a valid amount equal to 0.
type Amount struct {
	value apd.Decimal
}

var apdCtx = apd.BaseContext.WithPrecision(34)

var ErrInvalidAmount = errors.New("money: invalid amount")

// Parse parses a decimal string such as "1.5" or "10".
func Parse(s string) (Amount, error) {
	var d apd.Decimal
	if _, _, err := d.SetString(s); err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Amount{value: d}, nil
}

// MustParse is for constants and tests; it panics on malformed input.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func FromInt64(i int64) Amount {
	var d apd.Decimal
	d.SetInt64(i)
	return Amount{value: d}
}

func Zero() Amount { return Amount{} }

func (a Amount) String() string { return a.value.String() }

func (a Amount) IsZero() bool     { return a.value.IsZero() }
func (a Amount) IsNegative() bool { return a.value.Negative && !a.value.IsZero() }
func (a Amount) IsPositive() bool { return !a.value.Negative && !a.value.IsZero() }

// Cmp returns -1, 0, or 1.
func (a Amount) Cmp(other Amount) int { return a.value.Cmp(&other.value) }

func (a Amount) LessThan(other Amount) bool { return a.Cmp(other) < 0 }

func (a Amount) Add(other Amount) Amount {
	var result apd.Decimal
	apdCtx.Add(&result, &a.value, &other.value)
	return Amount{value: result}
}

func (a Amount) Sub(other Amount) Amount {
	var result apd.Decimal
	apdCtx.Sub(&result, &a.value, &other.value)
	return Amount{value: result}
}

// MulInt64 returns a * n. This is the drift-free path for duration * rate.
func (a Amount) MulInt64(n int64) Amount {
	var factor apd.Decimal
	factor.SetInt64(n)
	var result apd.Decimal
	apdCtx.Mul(&result, &a.value, &factor)
	return Amount{value: result}
}

// MarshalJSON renders the amount as a JSON string to avoid float coercion in clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.value.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" || s == "" {
		*a = Amount{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer; amounts are stored as NUMERIC.
func (a Amount) Value() (driver.Value, error) {
	return a.value.String(), nil
}

// Scan implements sql.Scanner for NUMERIC columns scanned as string or []byte.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case int64:
		*a = FromInt64(v)
		return nil
	default:
		return fmt.Errorf("%w: unsupported scan type %T", ErrInvalidAmount, src)
	}
}
