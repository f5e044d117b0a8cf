// Package forms manages multi-step form schemas and the submissions made
// against them. Both are stored as collection documents in the docstore.
package forms

import (
	"fmt"
	"regexp"
	"strings"

	"formvault/api/internal/formula"
)

// FieldType is the input kind of a field.
type FieldType string

const (
	FieldText       FieldType = "text"
	FieldTextarea   FieldType = "textarea"
	FieldEmail      FieldType = "email"
	FieldPassword   FieldType = "password"
	FieldTel        FieldType = "tel"
	FieldURL        FieldType = "url"
	FieldNumber     FieldType = "number"
	FieldCurrency   FieldType = "currency"
	FieldRange      FieldType = "range"
	FieldRating     FieldType = "rating"
	FieldSelect     FieldType = "select"
	FieldMulti      FieldType = "multiselect"
	FieldRadio      FieldType = "radio"
	FieldCheckbox   FieldType = "checkbox"
	FieldCheckboxes FieldType = "checkboxes"
	FieldToggle     FieldType = "toggle"
	FieldDate       FieldType = "date"
	FieldTime       FieldType = "time"
	FieldDateTime   FieldType = "datetime"
	FieldMonth      FieldType = "month"
	FieldColor      FieldType = "color"
	FieldFile       FieldType = "file"
	FieldImage      FieldType = "image"
	FieldSignature  FieldType = "signature"
	FieldAddress    FieldType = "address"
	FieldCountry    FieldType = "country"
	FieldHidden     FieldType = "hidden"
	FieldCalculated FieldType = "calculated"
	FieldHeading    FieldType = "heading"
	FieldParagraph  FieldType = "paragraph"
	FieldDivider    FieldType = "divider"
)

var knownFieldTypes = map[FieldType]struct{}{
	FieldText: {}, FieldTextarea: {}, FieldEmail: {}, FieldPassword: {}, FieldTel: {},
	FieldURL: {}, FieldNumber: {}, FieldCurrency: {}, FieldRange: {}, FieldRating: {},
	FieldSelect: {}, FieldMulti: {}, FieldRadio: {}, FieldCheckbox: {}, FieldCheckboxes: {},
	FieldToggle: {}, FieldDate: {}, FieldTime: {}, FieldDateTime: {}, FieldMonth: {},
	FieldColor: {}, FieldFile: {}, FieldImage: {}, FieldSignature: {}, FieldAddress: {},
	FieldCountry: {}, FieldHidden: {}, FieldCalculated: {}, FieldHeading: {}, FieldParagraph: {},
	FieldDivider: {},
}

// Layout fields carry no value.
func (t FieldType) displayOnly() bool {
	return t == FieldHeading || t == FieldParagraph || t == FieldDivider
}

func (t FieldType) choice() bool {
	return t == FieldSelect || t == FieldRadio || t == FieldMulti || t == FieldCheckboxes
}

func (t FieldType) multiple() bool {
	return t == FieldMulti || t == FieldCheckboxes
}

func (t FieldType) numeric() bool {
	return t == FieldNumber || t == FieldCurrency || t == FieldRange || t == FieldRating
}

// Form statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

type Form struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Steps       []Step   `json:"steps"`
	Settings    Settings `json:"settings"`
	CreatedBy   string   `json:"createdBy,omitempty"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

type Step struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Fields []Field `json:"fields"`
}

type Settings struct {
	NotifyEmail    string `json:"notifyEmail,omitempty"`
	AllowMultiple  bool   `json:"allowMultiple"`
	SuccessMessage string `json:"successMessage,omitempty"`
}

type Field struct {
	Name        string      `json:"name"`
	Type        FieldType   `json:"type"`
	Label       string      `json:"label"`
	Placeholder string      `json:"placeholder,omitempty"`
	Required    bool        `json:"required,omitempty"`
	Options     []Option    `json:"options,omitempty"`
	Validation  *Validation `json:"validation,omitempty"`
	ShowIf      *Condition  `json:"showIf,omitempty"`
	Formula     string      `json:"formula,omitempty"`
	Default     any         `json:"default,omitempty"`
}

type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type Validation struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// Condition shows a field only when another field's value satisfies it.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator,omitempty"`
	Value    any    `json:"value,omitempty"`
}

func (f Form) fields() []Field {
	var out []Field
	for _, step := range f.Steps {
		out = append(out, step.Fields...)
	}
	return out
}

// Check validates the structure of a form definition.
func (f Form) Check() error {
	errs := FieldErrors{}
	if strings.TrimSpace(f.Title) == "" {
		errs["title"] = "title is required"
	}
	switch f.Status {
	case "", StatusDraft, StatusPublished, StatusArchived:
	default:
		errs["status"] = fmt.Sprintf("unknown status %q", f.Status)
	}
	if len(f.Steps) == 0 {
		errs["steps"] = "at least one step is required"
	}

	names := map[string]bool{}
	for _, field := range f.fields() {
		if field.Name == "" {
			if !field.Type.displayOnly() {
				errs["fields"] = "every input field needs a name"
			}
			continue
		}
		if names[field.Name] {
			errs[field.Name] = "duplicate field name"
			continue
		}
		names[field.Name] = true
	}

	for _, field := range f.fields() {
		key := field.Name
		if key == "" {
			key = "fields"
		}
		if _, ok := knownFieldTypes[field.Type]; !ok {
			errs[key] = fmt.Sprintf("unknown field type %q", field.Type)
			continue
		}
		if field.Type.choice() && len(field.Options) == 0 {
			errs[key] = "options are required"
		}
		if field.Validation != nil && field.Validation.Pattern != "" {
			if _, err := regexp.Compile(field.Validation.Pattern); err != nil {
				errs[key] = "pattern is not a valid regular expression"
			}
		}
		if field.Type == FieldCalculated && field.Formula == "" {
			errs[key] = "calculated fields need a formula"
		}
		if field.Formula != "" {
			refs, err := formula.References(field.Formula)
			if err != nil {
				errs[key] = err.Error()
			}
			for _, ref := range refs {
				if !names[ref] {
					errs[key] = fmt.Sprintf("formula refers to unknown field %q", ref)
				}
			}
		}
		if field.ShowIf != nil {
			if field.ShowIf.Field == field.Name || !names[field.ShowIf.Field] {
				errs[key] = fmt.Sprintf("showIf refers to unknown field %q", field.ShowIf.Field)
			} else if _, ok := operators[operatorOf(field.ShowIf)]; !ok {
				errs[key] = fmt.Sprintf("unknown showIf operator %q", field.ShowIf.Operator)
			}
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
