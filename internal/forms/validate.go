package forms

import (
	"errors"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"formvault/api/internal/formula"
)

var ErrStepOutOfRange = errors.New("step out of range")

// FieldErrors maps a field name to its validation message.
type FieldErrors map[string]string

// ValidationError reports every invalid field at once.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

var operators = map[string]func(actual, expected any) bool{
	"equals":      func(a, e any) bool { return looseEqual(a, e) },
	"notEquals":   func(a, e any) bool { return !looseEqual(a, e) },
	"contains":    contains,
	"notContains": func(a, e any) bool { return !contains(a, e) },
	"greaterThan": func(a, e any) bool { return !isEmpty(a) && formula.ToNumber(a) > formula.ToNumber(e) },
	"lessThan":    func(a, e any) bool { return !isEmpty(a) && formula.ToNumber(a) < formula.ToNumber(e) },
	"isEmpty":     func(a, _ any) bool { return isEmpty(a) },
	"isNotEmpty":  func(a, _ any) bool { return !isEmpty(a) },
	"in":          func(a, e any) bool { return contains(e, a) },
}

func operatorOf(c *Condition) string {
	if c.Operator == "" {
		return "equals"
	}
	return c.Operator
}

// visibleFields walks the fields in order and reports which are shown for
// values. A hidden field's value does not count towards later conditions.
func visibleFields(form Form, values map[string]any) map[string]bool {
	effective := make(map[string]any, len(values))
	for k, v := range values {
		effective[k] = v
	}
	visible := map[string]bool{}
	for _, field := range form.fields() {
		shown := true
		if field.ShowIf != nil {
			if op, ok := operators[operatorOf(field.ShowIf)]; ok {
				shown = op(effective[field.ShowIf.Field], field.ShowIf.Value)
			}
		}
		if !shown {
			delete(effective, field.Name)
		}
		visible[field.Name] = shown
	}
	return visible
}

// ValidateStep checks the visible fields of one step against values.
func ValidateStep(form Form, stepIndex int, values map[string]any) error {
	if stepIndex < 0 || stepIndex >= len(form.Steps) {
		return fmt.Errorf("%w: %d of %d", ErrStepOutOfRange, stepIndex, len(form.Steps))
	}
	visible := visibleFields(form, values)
	errs := FieldErrors{}
	for _, field := range form.Steps[stepIndex].Fields {
		if !visible[field.Name] || field.Type.displayOnly() || field.Type == FieldCalculated {
			continue
		}
		if msg := validateField(field, values[field.Name]); msg != "" {
			errs[field.Name] = msg
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateSubmission validates every step and returns the data to store:
// the visible input fields only, with calculated fields evaluated.
func ValidateSubmission(form Form, values map[string]any) (map[string]any, error) {
	visible := visibleFields(form, values)
	errs := FieldErrors{}
	clean := map[string]any{}
	for _, field := range form.fields() {
		if field.Type.displayOnly() || !visible[field.Name] {
			continue
		}
		if field.Type == FieldCalculated {
			continue
		}
		value, present := values[field.Name]
		if !present && field.Default != nil {
			value, present = field.Default, true
		}
		if msg := validateField(field, value); msg != "" {
			errs[field.Name] = msg
			continue
		}
		if present && !isEmpty(value) {
			clean[field.Name] = value
		}
	}

	for _, field := range form.fields() {
		if field.Type != FieldCalculated && field.Formula == "" {
			continue
		}
		if !visible[field.Name] {
			continue
		}
		result, err := formula.Evaluate(field.Formula, formula.Vars(clean))
		if err != nil {
			errs[field.Name] = "could not be calculated: " + err.Error()
			continue
		}
		clean[field.Name] = roundTo(result, 6)
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}
	return clean, nil
}

func validateField(field Field, value any) string {
	label := field.Label
	if label == "" {
		label = field.Name
	}
	if isEmpty(value) || (field.Type == FieldCheckbox && value == false) {
		if field.Required {
			return label + " is required"
		}
		return ""
	}
	msg := checkValue(field, value)
	if msg != "" && field.Validation != nil && field.Validation.Message != "" {
		return field.Validation.Message
	}
	return msg
}

func checkValue(field Field, value any) string {
	rules := field.Validation
	if rules == nil {
		rules = &Validation{}
	}

	switch {
	case field.Type.numeric():
		n, ok := asNumber(value)
		if !ok {
			return "must be a number"
		}
		if field.Type == FieldRating && n != math.Trunc(n) {
			return "must be a whole number"
		}
		if rules.Min != nil && n < *rules.Min {
			return fmt.Sprintf("must be at least %g", *rules.Min)
		}
		if rules.Max != nil && n > *rules.Max {
			return fmt.Sprintf("must be at most %g", *rules.Max)
		}
		return ""
	case field.Type.multiple():
		items, ok := value.([]any)
		if !ok {
			return "must be a list"
		}
		for _, item := range items {
			if !hasOption(field, item) {
				return fmt.Sprintf("%v is not an allowed option", item)
			}
		}
		if rules.Min != nil && float64(len(items)) < *rules.Min {
			return fmt.Sprintf("choose at least %g", *rules.Min)
		}
		if rules.Max != nil && float64(len(items)) > *rules.Max {
			return fmt.Sprintf("choose at most %g", *rules.Max)
		}
		return ""
	case field.Type.choice():
		if !hasOption(field, value) {
			return fmt.Sprintf("%v is not an allowed option", value)
		}
		return ""
	case field.Type == FieldCheckbox || field.Type == FieldToggle:
		if _, ok := value.(bool); !ok {
			return "must be true or false"
		}
		return ""
	case field.Type == FieldAddress:
		if _, ok := value.(map[string]any); !ok {
			if _, isString := value.(string); !isString {
				return "must be an address"
			}
		}
		return ""
	}

	text, ok := value.(string)
	if !ok {
		return "must be text"
	}
	length := utf8.RuneCountInString(text)
	if rules.MinLength != nil && length < *rules.MinLength {
		return fmt.Sprintf("must be at least %d characters", *rules.MinLength)
	}
	if rules.MaxLength != nil && length > *rules.MaxLength {
		return fmt.Sprintf("must be at most %d characters", *rules.MaxLength)
	}
	if rules.Pattern != "" {
		re, err := regexp.Compile(rules.Pattern)
		if err != nil || !re.MatchString(text) {
			return "has an invalid format"
		}
	}

	switch field.Type {
	case FieldEmail:
		addr, err := mail.ParseAddress(text)
		if err != nil || addr.Address != text || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@"):], ".") {
			return "must be a valid email address"
		}
	case FieldURL:
		u, err := url.Parse(text)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "must be a valid URL"
		}
	case FieldTel:
		if !telPattern.MatchString(text) {
			return "must be a valid phone number"
		}
	case FieldColor:
		if !colorPattern.MatchString(text) {
			return "must be a hex colour"
		}
	case FieldDate:
		return checkTime(text, "must be a date (YYYY-MM-DD)", time.DateOnly)
	case FieldTime:
		return checkTime(text, "must be a time (HH:MM)", "15:04", time.TimeOnly)
	case FieldDateTime:
		return checkTime(text, "must be a date and time", time.RFC3339, "2006-01-02T15:04", "2006-01-02T15:04:05")
	case FieldMonth:
		return checkTime(text, "must be a month (YYYY-MM)", "2006-01")
	}
	return ""
}

var (
	telPattern   = regexp.MustCompile(`^\+?[0-9 ()\-.]{6,20}$`)
	colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
)

func checkTime(text, message string, layouts ...string) string {
	for _, layout := range layouts {
		if _, err := time.Parse(layout, text); err == nil {
			return ""
		}
	}
	return message
}

func hasOption(field Field, value any) bool {
	want := fmt.Sprint(value)
	for _, option := range field.Options {
		if option.Value == want {
			return true
		}
	}
	return false
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return n, err == nil
	case bool, nil:
		return 0, false
	case map[string]any, []any:
		return 0, false
	default:
		return formula.ToNumber(v), true
	}
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func looseEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	if reflect.DeepEqual(actual, expected) {
		return true
	}
	if _, ok := actual.([]any); ok {
		return false
	}
	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	case string:
		return needle != nil && strings.Contains(h, fmt.Sprint(needle))
	default:
		return false
	}
}

func roundTo(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}
