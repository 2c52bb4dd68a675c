package domain

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// OptionalPrice distinguishes an omitted field from an explicit null.
// The zero value means "leave unchanged".
type OptionalPrice struct {
	Set   bool
	Price *decimal.Decimal
}

// SetPrice returns a patch value that sets the price.
func SetPrice(p decimal.Decimal) OptionalPrice {
	return OptionalPrice{Set: true, Price: &p}
}

// ClearPrice returns a patch value that removes the condition.
func ClearPrice() OptionalPrice {
	return OptionalPrice{Set: true}
}

// UnmarshalJSON is only called when the key is present, so any call marks the field as set.
func (op *OptionalPrice) UnmarshalJSON(data []byte) error {
	op.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		op.Price = nil
		return nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	op.Price = &d
	return nil
}

// MarshalJSON writes the price or null.
func (op OptionalPrice) MarshalJSON() ([]byte, error) {
	if op.Price == nil {
		return []byte("null"), nil
	}
	return json.Marshal(op.Price)
}
