// Package plan models research plan drafts and their revisions.
package plan

// Draft is a structured research plan. All fields are plain text; absent
// sections are empty strings, never omitted.
type Draft struct {
	Title          string `json:"title"`
	Background     string `json:"background"`
	RQ             string `json:"rq"`
	Hypothesis     string `json:"hypothesis"`
	Data           string `json:"data"`
	Methods        string `json:"methods"`
	Identification string `json:"identification"`
	Validation     string `json:"validation"`
	Ethics         string `json:"ethics"`
}

// Fields lists draft section names in their canonical order. Diff output
// and serialized drafts follow this order.
var Fields = []string{
	"title", "background", "rq", "hypothesis", "data",
	"methods", "identification", "validation", "ethics",
}

// FieldChange records one revised section.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Field returns the named section, or "" for unknown names.
func (d Draft) Field(name string) string {
	return d.get(name)
}

func (d *Draft) get(field string) string {
	switch field {
	case "title":
		return d.Title
	case "background":
		return d.Background
	case "rq":
		return d.RQ
	case "hypothesis":
		return d.Hypothesis
	case "data":
		return d.Data
	case "methods":
		return d.Methods
	case "identification":
		return d.Identification
	case "validation":
		return d.Validation
	case "ethics":
		return d.Ethics
	}
	return ""
}

func (d *Draft) set(field, value string) {
	switch field {
	case "title":
		d.Title = value
	case "background":
		d.Background = value
	case "rq":
		d.RQ = value
	case "hypothesis":
		d.Hypothesis = value
	case "data":
		d.Data = value
	case "methods":
		d.Methods = value
	case "identification":
		d.Identification = value
	case "validation":
		d.Validation = value
	case "ethics":
		d.Ethics = value
	}
}

// Normalize builds a Draft from a loose field map, coercing missing or
// non-string values to empty strings. Unknown keys are dropped.
func Normalize(fields map[string]any) Draft {
	var d Draft
	for _, name := range Fields {
		if v, ok := fields[name].(string); ok {
			d.set(name, v)
		}
	}
	return d
}

// Diff compares two drafts section by section with exact string equality
// and returns the changed sections in canonical field order. Identical
// drafts yield an empty (nil) diff.
func Diff(before, after Draft) []FieldChange {
	var changes []FieldChange
	for _, name := range Fields {
		b, a := before.get(name), after.get(name)
		if b != a {
			changes = append(changes, FieldChange{Field: name, Before: b, After: a})
		}
	}
	return changes
}
