// Package order turns a basket snapshot into the order submitted at checkout.
package order

import (
	"fmt"
	"sort"
	"strings"

	"paykiosk/pkg/models"
)

// Line is the normalized form of one basket line, as sent in the checkout cart
type Line struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// Subtotal truncates the float product price × quantity. The server
// computes the same float product, so 0.29 × 100 is 28, not 29.
func (l Line) Subtotal() int64 {
	return int64(l.Price * float64(l.Quantity))
}

// Order is derived from a basket on demand and never stored
type Order struct {
	Lines      map[string]Line `json:"cart"`
	TotalPrice int64           `json:"totalAmount"`
}

// Empty reports whether the order has no lines
func (o Order) Empty() bool {
	return len(o.Lines) == 0
}

// Aggregate computes the order for a basket keyed by product id. Each line
// contributes its truncated subtotal; lines with no quantity are left out.
func Aggregate(basket map[string]models.BasketLine) Order {
	o := Order{Lines: make(map[string]Line, len(basket))}

	for id, bl := range basket {
		if bl.Quantity <= 0 {
			continue
		}
		line := Line{
			Name:     bl.Product.Name,
			Price:    bl.Product.Price,
			Quantity: bl.Quantity,
		}
		o.Lines[id] = line
		o.TotalPrice += line.Subtotal()
	}

	return o
}

// Summary renders the order for the confirmation prompt, one line per
// product sorted by name, followed by the total.
func Summary(o Order) string {
	ids := make([]string, 0, len(o.Lines))
	for id := range o.Lines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := o.Lines[ids[i]], o.Lines[ids[j]]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return ids[i] < ids[j]
	})

	var sb strings.Builder
	for _, id := range ids {
		l := o.Lines[id]
		fmt.Fprintf(&sb, "%s × %d = %d\n", l.Name, l.Quantity, l.Subtotal())
	}
	fmt.Fprintf(&sb, "Total: %d", o.TotalPrice)
	return sb.String()
}
