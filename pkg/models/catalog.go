package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProductID accepts both numeric and string identifiers from the server
type ProductID string

// UnmarshalJSON implements json.Unmarshaler
func (id *ProductID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ProductID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("product id: %w", err)
	}
	*id = ProductID(n.String())
	return nil
}

// Product is a catalog entry as served by the remote API
type Product struct {
	ID          ProductID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	ImageURL    string    `json:"image_url"`
}

// Category groups products for the catalog screen
type Category struct {
	Name     string    `json:"name"`
	Products []Product `json:"products"`
}

// BasketLine is one product in the operator's basket. A line whose
// quantity reaches zero is removed by the UI.
type BasketLine struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}
