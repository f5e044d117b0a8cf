package formula

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestEvaluate(t *testing.T) {
	vars := Vars{
		"price":      "12.50",
		"quantity":   json.Number("4"),
		"discount":   0.1,
		"unit price": 3,
		"agree":      true,
		"notes":      "n/a",
	}
	tests := []struct {
		expr string
		want float64
	}{
		{expr: "1 + 2 * 3", want: 7},
		{expr: "(1 + 2) * 3", want: 9},
		{expr: "10 - 4 - 3", want: 3},
		{expr: "2 ^ 3 ^ 2", want: 512},
		{expr: "-2 ^ 2", want: -4},
		{expr: "--3", want: 3},
		{expr: "7 % 4", want: 3},
		{expr: "price * quantity * (1 - discount)", want: 45},
		{expr: "{unit price} * 2", want: 6},
		{expr: "agree + missing + notes", want: 1},
		{expr: "min(4, 2, 9) + max(1, 5)", want: 7},
		{expr: "abs(-3) + floor(2.7) + ceil(2.1)", want: 8},
		{expr: "round(2.346, 2)", want: 2.35},
		{expr: "round(2.5)", want: 3},
		{expr: "sqrt(16)", want: 4},
		{expr: "1.5e2", want: 150},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr, vars)
			if err != nil {
				t.Fatalf("Evaluate(%q) error = %v", tt.expr, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		expr string
		want error
	}{
		{expr: "1 / 0", want: ErrDivisionByZero},
		{expr: "5 % (2 - 2)", want: ErrDivisionByZero},
		{expr: "", want: ErrSyntax},
		{expr: "1 +", want: ErrSyntax},
		{expr: "(1 + 2", want: ErrSyntax},
		{expr: "1 2", want: ErrSyntax},
		{expr: "{open", want: ErrSyntax},
		{expr: "{}", want: ErrSyntax},
		{expr: "a; b", want: ErrSyntax},
		{expr: "alert(1)", want: ErrUnknownFunc},
		{expr: "round(1, 2, 3)", want: ErrSyntax},
		{expr: "sqrt(-1)", want: ErrSyntax},
		{expr: "min()", want: ErrSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if _, err := Evaluate(tt.expr, nil); !errors.Is(err, tt.want) {
				t.Fatalf("Evaluate(%q) error = %v, want %v", tt.expr, err, tt.want)
			}
		})
	}
}

func TestReferences(t *testing.T) {
	names, err := References("round(price * qty, 2) + {unit price} + price")
	if err != nil {
		t.Fatalf("References() error = %v", err)
	}
	want := []string{"price", "qty", "unit price"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("References() = %v, want %v", names, want)
	}
}
