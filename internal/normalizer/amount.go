package normalizer

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"ledgerlink-reconciliation-service/internal/models"
)

// Amount is an ERP document amount kept as written. Decoding never fails on
// the value itself, so one malformed amount rejects only its own record.
// Both JSON numbers and strings are accepted.
type Amount struct {
	raw string
	set bool
}

// NewAmount returns a set amount holding d
func NewAmount(d decimal.Decimal) Amount {
	return Amount{raw: d.String(), set: true}
}

// UnmarshalJSON keeps the raw text; null and blank strings leave the amount unset
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Amount{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount{raw: s, set: strings.TrimSpace(s) != ""}
		return nil
	}
	*a = Amount{raw: string(data), set: true}
	return nil
}

// MarshalJSON writes the amount as a string, or null when unset
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.set {
		return []byte("null"), nil
	}
	return json.Marshal(a.raw)
}

// IsSet reports whether the document carried the amount
func (a Amount) IsSet() bool {
	return a.set
}

// String returns the amount as written
func (a Amount) String() string {
	return a.raw
}

// Decimal parses the amount, tolerating a dollar sign and thousands separators
func (a Amount) Decimal() (decimal.Decimal, error) {
	return models.ParseDecimalFromString(a.raw)
}
