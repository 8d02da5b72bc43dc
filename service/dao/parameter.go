package dao

// Parameter is a named List filter. A string value matches the field exactly;
// a slice value matches any of its elements.
type Parameter struct {
	Name  string
	Value interface{}
}

// NewParameter builds a filter; one value filters by equality, several by
// set membership.
func NewParameter(name string, values ...string) *Parameter {
	if len(values) == 1 {
		return &Parameter{Name: name, Value: values[0]}
	}
	return &Parameter{Name: name, Value: values}
}
