package forms

import (
	"errors"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func orderForm() Form {
	return Form{
		ID:     "form_order",
		Title:  "Order",
		Status: StatusPublished,
		Steps: []Step{
			{
				ID:    "contact",
				Title: "Contact",
				Fields: []Field{
					{Name: "intro", Type: FieldHeading, Label: "About you"},
					{Name: "name", Type: FieldText, Label: "Name", Required: true, Validation: &Validation{MaxLength: ptr(20)}},
					{Name: "email", Type: FieldEmail, Label: "Email", Required: true},
					{Name: "company", Type: FieldCheckbox, Label: "Ordering for a company"},
					{Name: "vat", Type: FieldText, Label: "VAT number", Required: true, ShowIf: &Condition{Field: "company", Value: true},
						Validation: &Validation{Pattern: `^[A-Z]{2}[0-9]{8,12}$`}},
				},
			},
			{
				ID:    "order",
				Title: "Order",
				Fields: []Field{
					{Name: "size", Type: FieldSelect, Label: "Size", Required: true, Options: []Option{{Label: "Small", Value: "s"}, {Label: "Large", Value: "l"}}},
					{Name: "quantity", Type: FieldNumber, Label: "Quantity", Required: true, Validation: &Validation{Min: ptr(1.0), Max: ptr(10.0)}},
					{Name: "price", Type: FieldCurrency, Label: "Unit price", Default: 9.5},
					{Name: "extras", Type: FieldCheckboxes, Label: "Extras", Options: []Option{{Label: "Gift wrap", Value: "gift"}, {Label: "Card", Value: "card"}}},
					{Name: "total", Type: FieldCalculated, Label: "Total", Formula: "round(quantity * price, 2)"},
					{Name: "delivery", Type: FieldDate, Label: "Delivery date", ShowIf: &Condition{Field: "size", Operator: "equals", Value: "l"}},
				},
			},
		},
	}
}

func fieldErrors(t *testing.T, err error) FieldErrors {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	return verr.Fields
}

func TestValidateStep(t *testing.T) {
	form := orderForm()

	err := ValidateStep(form, 0, map[string]any{"email": "not-an-email"})
	errs := fieldErrors(t, err)
	if errs["name"] != "Name is required" {
		t.Fatalf("name error = %q", errs["name"])
	}
	if errs["email"] != "must be a valid email address" {
		t.Fatalf("email error = %q", errs["email"])
	}
	if _, ok := errs["vat"]; ok {
		t.Fatal("hidden vat field must not be validated")
	}
	if _, ok := errs["size"]; ok {
		t.Fatal("fields of other steps must not be validated")
	}

	err = ValidateStep(form, 0, map[string]any{"name": "Robin", "email": "robin@example.com", "company": true})
	if fieldErrors(t, err)["vat"] != "VAT number is required" {
		t.Fatalf("shown vat field not required: %v", err)
	}
	err = ValidateStep(form, 0, map[string]any{"name": "Robin", "email": "robin@example.com", "company": true, "vat": "GB123456789"})
	if err != nil {
		t.Fatalf("ValidateStep() error = %v", err)
	}

	if err := ValidateStep(form, 2, nil); !errors.Is(err, ErrStepOutOfRange) {
		t.Fatalf("out of range error = %v", err)
	}
}

func TestValidateSubmissionCleansAndCalculates(t *testing.T) {
	form := orderForm()
	values := map[string]any{
		"name":     "Robin",
		"email":    "robin@example.com",
		"company":  false,
		"vat":      "should be dropped",
		"size":     "s",
		"quantity": 3.0,
		"extras":   []any{"gift"},
		"delivery": "2024-07-01",
		"total":    1000.0,
		"unknown":  "dropped",
	}
	clean, err := ValidateSubmission(form, values)
	if err != nil {
		t.Fatalf("ValidateSubmission() error = %v", err)
	}
	for _, dropped := range []string{"vat", "delivery", "unknown", "intro"} {
		if _, ok := clean[dropped]; ok {
			t.Errorf("%s should have been stripped", dropped)
		}
	}
	if clean["total"] != 28.5 {
		t.Fatalf("total = %v, want 28.5 from the default unit price", clean["total"])
	}
	if clean["price"] != 9.5 {
		t.Fatalf("default price not applied: %v", clean["price"])
	}
}

func TestValidateSubmissionErrors(t *testing.T) {
	form := orderForm()
	_, err := ValidateSubmission(form, map[string]any{
		"name":     "A name that is far too long to fit",
		"email":    "robin@example.com",
		"size":     "xl",
		"quantity": "eleven",
		"extras":   []any{"gift", "balloon"},
		"delivery": "tomorrow",
	})
	errs := fieldErrors(t, err)
	want := map[string]string{
		"name":     "must be at most 20 characters",
		"size":     "xl is not an allowed option",
		"quantity": "must be a number",
		"extras":   "balloon is not an allowed option",
	}
	for field, msg := range want {
		if errs[field] != msg {
			t.Errorf("%s error = %q, want %q", field, errs[field], msg)
		}
	}
	if _, ok := errs["delivery"]; ok {
		t.Error("delivery is hidden for size xl and must not be validated")
	}
}

func TestHiddenFieldsCascade(t *testing.T) {
	form := Form{
		Title: "Cascade",
		Steps: []Step{{Fields: []Field{
			{Name: "a", Type: FieldToggle},
			{Name: "b", Type: FieldText, ShowIf: &Condition{Field: "a", Value: true}},
			{Name: "c", Type: FieldText, Required: true, ShowIf: &Condition{Field: "b", Operator: "isNotEmpty"}},
		}}},
	}
	// b is hidden, so its stale value must not reveal c.
	clean, err := ValidateSubmission(form, map[string]any{"a": false, "b": "stale"})
	if err != nil {
		t.Fatalf("ValidateSubmission() error = %v", err)
	}
	if _, ok := clean["b"]; ok {
		t.Fatal("b should be stripped")
	}
}

func TestConditionOperators(t *testing.T) {
	tests := []struct {
		op       string
		actual   any
		expected any
		want     bool
	}{
		{op: "equals", actual: "yes", expected: "yes", want: true},
		{op: "equals", actual: 3.0, expected: "3", want: true},
		{op: "notEquals", actual: "no", expected: "yes", want: true},
		{op: "contains", actual: []any{"a", "b"}, expected: "b", want: true},
		{op: "contains", actual: "hello world", expected: "world", want: true},
		{op: "notContains", actual: []any{"a"}, expected: "b", want: true},
		{op: "greaterThan", actual: "10", expected: 5, want: true},
		{op: "greaterThan", actual: nil, expected: -1, want: false},
		{op: "lessThan", actual: 2.0, expected: 5, want: true},
		{op: "isEmpty", actual: "  ", want: true},
		{op: "isNotEmpty", actual: []any{}, want: false},
		{op: "in", actual: "b", expected: []any{"a", "b"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			if got := operators[tt.op](tt.actual, tt.expected); got != tt.want {
				t.Fatalf("%s(%v, %v) = %v, want %v", tt.op, tt.actual, tt.expected, got, tt.want)
			}
		})
	}
}

func TestFormCheck(t *testing.T) {
	if err := orderForm().Check(); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	bad := Form{
		Status: "live",
		Steps: []Step{{Fields: []Field{
			{Name: "x", Type: "slider"},
			{Name: "y", Type: FieldSelect},
			{Name: "y", Type: FieldText},
			{Name: "z", Type: FieldCalculated, Formula: "missing * 2"},
			{Name: "w", Type: FieldText, ShowIf: &Condition{Field: "w"}},
			{Name: "p", Type: FieldText, Validation: &Validation{Pattern: "("}},
		}}},
	}
	errs := fieldErrors(t, bad.Check())
	for _, key := range []string{"title", "status", "x", "y", "z", "w", "p"} {
		if _, ok := errs[key]; !ok {
			t.Errorf("expected an error for %s, got %v", key, errs)
		}
	}
	if err := (Form{Title: "Empty"}).Check(); fieldErrors(t, err)["steps"] == "" {
		t.Fatal("a form without steps must be rejected")
	}
}
