// Package response converts the backend query wire formats into one unified
// tabular model with lazy, typed row access.
package response

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Column describes one result column with its declared backend type.
type Column struct {
	Name string
	Type string
}

// Table is one logical result table. Cell values are coerced from their
// declared column type on access, not when the response is decoded, so large
// result sets are never fully materialized up front.
type Table struct {
	Name string
	Kind string

	columns []Column
	rows    [][]interface{}
}

// Columns returns the column descriptors.
func (t *Table) Columns() []Column { return t.columns }

// ColumnNames returns the column names in declared order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// RowCount returns the number of rows.
func (t *Table) RowCount() int { return len(t.rows) }

// ColCount returns the number of columns.
func (t *Table) ColCount() int { return len(t.columns) }

// Row returns row i with typed-value coercion applied.
func (t *Table) Row(i int) ([]interface{}, error) {
	if i < 0 || i >= len(t.rows) {
		return nil, fmt.Errorf("row index %d out of range [0,%d)", i, len(t.rows))
	}
	raw := t.rows[i]
	// Backend JSON is external input; a row that disagrees with the declared
	// column count is rejected rather than indexed blindly.
	if len(raw) != len(t.columns) {
		return nil, fmt.Errorf("row %d has %d cells, table declares %d columns", i, len(raw), len(t.columns))
	}
	row := make([]interface{}, len(raw))
	for col, value := range raw {
		converted, err := convertValue(t.columns[col].Type, value)
		if err != nil {
			return nil, fmt.Errorf("row %d column %q: %w", i, t.columns[col].Name, err)
		}
		row[col] = converted
	}
	return row, nil
}

// Rows materializes every row with coercion applied. The first coercion or
// row-shape error aborts the materialization.
func (t *Table) Rows() ([][]interface{}, error) {
	rows := make([][]interface{}, 0, len(t.rows))
	iter := t.Iter()
	for iter.Next() {
		rows = append(rows, iter.Row())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Iter returns an iterator over the table's rows.
func (t *Table) Iter() *RowIter {
	return &RowIter{table: t}
}

// RowIter iterates rows one at a time, coercing values as it goes.
type RowIter struct {
	table *Table
	index int
	row   []interface{}
	err   error
}

// Next advances to the next row. It returns false when the rows are exhausted
// or a coercion error occurred; check Err afterwards.
func (it *RowIter) Next() bool {
	if it.err != nil || it.index >= it.table.RowCount() {
		return false
	}
	it.row, it.err = it.table.Row(it.index)
	it.index++
	return it.err == nil
}

// Row returns the current row.
func (it *RowIter) Row() []interface{} { return it.row }

// Err returns the first coercion error encountered, if any.
func (it *RowIter) Err() error { return it.err }

// timespanPattern matches the "d.hh:mm:ss.fff" timespan form. A leading "-"
// negates the whole duration.
var timespanPattern = regexp.MustCompile(`^(-?)((?P<d>[0-9]*)\.)?(?P<h>[0-9]{2}):(?P<m>[0-9]{2}):(?P<s>[0-9]{2}(\.[0-9]+)?)$`)

// ParseTimespan decodes a backend timespan value. Numeric values count
// 100-nanosecond ticks; strings use the "d.hh:mm:ss.fff" pattern.
func ParseTimespan(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case float64:
		return time.Duration(v * 100), nil
	case int64:
		return time.Duration(v * 100), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("timespan value %q cannot be decoded", v)
		}
		return time.Duration(f * 100), nil
	case string:
		m := timespanPattern.FindStringSubmatch(v)
		if m == nil {
			return 0, fmt.Errorf("timespan value %q cannot be decoded", v)
		}
		days := int64(0)
		if m[3] != "" {
			days, _ = strconv.ParseInt(m[3], 10, 64)
		}
		hours, _ := strconv.ParseInt(m[4], 10, 64)
		minutes, _ := strconv.ParseInt(m[5], 10, 64)
		seconds, _ := strconv.ParseFloat(m[6], 64)
		total := time.Duration(days)*24*time.Hour +
			time.Duration(hours)*time.Hour +
			time.Duration(minutes)*time.Minute +
			time.Duration(seconds*float64(time.Second))
		if m[1] == "-" {
			total = -total
		}
		return total, nil
	default:
		return 0, fmt.Errorf("timespan value of type %T cannot be decoded", value)
	}
}

// convertValue coerces a cell according to its declared column type. Types
// without a converter pass through unchanged.
func convertValue(columnType string, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch columnType {
	case "datetime", "DateTime":
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("datetime value of type %T cannot be decoded", value)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			// Some responses omit the zone designator.
			ts, err = time.Parse("2006-01-02T15:04:05.999999999", s)
		}
		if err != nil {
			return nil, fmt.Errorf("datetime value %q cannot be decoded", s)
		}
		return ts, nil
	case "timespan", "TimeSpan":
		return ParseTimespan(value)
	case "dynamic":
		s, ok := value.(string)
		if !ok {
			// Already a decoded JSON value.
			return value, nil
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, fmt.Errorf("dynamic value %q cannot be decoded", s)
		}
		return decoded, nil
	default:
		return value, nil
	}
}

func decodeColumns(raw []interface{}) []Column {
	columns := make([]Column, 0, len(raw))
	for _, c := range raw {
		col, _ := c.(map[string]interface{})
		name, _ := col["ColumnName"].(string)
		ctype, _ := col["ColumnType"].(string)
		if ctype == "" {
			ctype, _ = col["DataType"].(string)
		}
		columns = append(columns, Column{Name: name, Type: ctype})
	}
	return columns
}

func decodeRows(raw []interface{}) [][]interface{} {
	rows := make([][]interface{}, 0, len(raw))
	for _, r := range raw {
		row, ok := r.([]interface{})
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func decodeTable(raw map[string]interface{}) *Table {
	name, _ := raw["TableName"].(string)
	kind, _ := raw["TableKind"].(string)
	cols, _ := raw["Columns"].([]interface{})
	rows, _ := raw["Rows"].([]interface{})
	return &Table{
		Name:    name,
		Kind:    kind,
		columns: decodeColumns(cols),
		rows:    decodeRows(rows),
	}
}

func indexOfColumn(columns []Column, name string) int {
	for i, c := range columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func toInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

func decodeJSONCell(value interface{}) map[string]interface{} {
	s, ok := value.(string)
	if !ok {
		if m, ok := value.(map[string]interface{}); ok {
			return m
		}
		return nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return nil
	}
	return decoded
}

func stringsFromAny(values []interface{}) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		default:
			b, err := json.Marshal(t)
			if err != nil {
				out = append(out, fmt.Sprintf("%v", t))
				continue
			}
			out = append(out, string(b))
		}
	}
	return out
}
