package domain

// ColumnType is the declared type of a view column.
type ColumnType string

const (
	// ColumnText holds free text.
	ColumnText ColumnType = "text"
	// ColumnInteger holds whole numbers.
	ColumnInteger ColumnType = "integer"
	// ColumnReal holds floating point numbers.
	ColumnReal ColumnType = "real"
	// ColumnTimestamp holds dates and times.
	ColumnTimestamp ColumnType = "timestamp"
)

// Column describes one column of a structured view.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// StructuredView is a named read-only relational projection owned by an
// external aggregation job. The schema is an immutable contract; this core
// never writes to it.
type StructuredView struct {
	Name    string   `json:"view_name"`
	Columns []Column `json:"columns"`
}

// Column returns the named column, if declared.
func (v StructuredView) Column(name string) (Column, bool) {
	for _, c := range v.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}
