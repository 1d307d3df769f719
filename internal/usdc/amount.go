// Package usdc holds fixed-point USDC amounts. One USDC is 1_000_000 atomic units.
package usdc

import (
	"database/sql/driver"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

const Decimals = 6

// Amount is a USDC amount in atomic units.
type Amount int64

var unit = decimal.New(1, Decimals)

func FromDecimal(d decimal.Decimal) Amount {
	return Amount(d.Mul(unit).Truncate(0).IntPart())
}

// Parse reads a human amount such as "0.01".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid usdc amount %q: %w", s, err)
	}
	if d.Exponent() < -Decimals && !d.Equal(d.Truncate(Decimals)) {
		return 0, fmt.Errorf("invalid usdc amount %q: more than %d decimals", s, Decimals)
	}
	return FromDecimal(d), nil
}

// MustParse panics on malformed input. Only for constants.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseUnits reads an atomic-unit integer string, as carried by payment authorizations.
func ParseUnits(s string) (Amount, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid usdc units %q: %w", s, err)
	}
	return Amount(v), nil
}

func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Decimals)
}

func (a Amount) Units() int64 { return int64(a) }

func (a Amount) String() string {
	return a.Decimal().StringFixed(Decimals)
}

// Percent returns pct percent of a, truncated to a whole unit.
func (a Amount) Percent(pct decimal.Decimal) Amount {
	return Amount(decimal.NewFromInt(int64(a)).Mul(pct).Div(decimal.NewFromInt(100)).Truncate(0).IntPart())
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(a.Decimal().String())), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Value stores the amount as atomic units.
func (a Amount) Value() (driver.Value, error) {
	return int64(a), nil
}

func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*a = Amount(v)
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return err
		}
		*a = Amount(n)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*a = Amount(n)
	case nil:
		*a = 0
	default:
		return fmt.Errorf("usdc: cannot scan %T", src)
	}
	return nil
}
