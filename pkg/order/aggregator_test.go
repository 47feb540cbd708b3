package order

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"paykiosk/pkg/models"
)

func line(name string, price float64, qty int) models.BasketLine {
	return models.BasketLine{
		Product:  models.Product{Name: name, Price: price},
		Quantity: qty,
	}
}

func TestAggregateFloorsEachLine(t *testing.T) {
	o := Aggregate(map[string]models.BasketLine{
		"p1": line("Coffee", 100, 2),
		"p2": line("Croissant", 49.5, 1),
	})

	assert.Equal(t, int64(249), o.TotalPrice)
	assert.Equal(t, Line{Name: "Coffee", Price: 100, Quantity: 2}, o.Lines["p1"])
	assert.Equal(t, Line{Name: "Croissant", Price: 49.5, Quantity: 1}, o.Lines["p2"])
}

func TestAggregateTruncatesFloatProduct(t *testing.T) {
	tests := []struct {
		name  string
		price float64
		qty   int
		want  int64
	}{
		{"tenths", 0.1, 3, 0},
		{"tenths to whole", 0.1, 10, 1},
		{"half", 49.5, 2, 99},
		{"repeating", 33.3, 3, 99},
		{"cents", 19.99, 100, 1998},
		{"product just below whole", 0.29, 100, 28},
		{"product just below whole again", 0.57, 100, 56},
		{"above one", 1.15, 100, 114},
		{"exact product", 0.25, 4, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Aggregate(map[string]models.BasketLine{"p": line("x", tt.price, tt.qty)})
			assert.Equal(t, tt.want, o.TotalPrice)
		})
	}
}

func TestAggregateDropsEmptyLines(t *testing.T) {
	o := Aggregate(map[string]models.BasketLine{
		"p1": line("Tea", 80, 0),
		"p2": line("Water", 60, 1),
	})

	assert.Len(t, o.Lines, 1)
	assert.Contains(t, o.Lines, "p2")
	assert.Equal(t, int64(60), o.TotalPrice)

	assert.True(t, Aggregate(nil).Empty())
}

func TestSummary(t *testing.T) {
	o := Aggregate(map[string]models.BasketLine{
		"p2": line("Croissant", 49.5, 1),
		"p1": line("Coffee", 100, 2),
	})

	assert.Equal(t, "Coffee × 2 = 200\nCroissant × 1 = 49\nTotal: 249", Summary(o))
}
