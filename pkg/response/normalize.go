package response

import (
	"encoding/json"
	"fmt"
)

// Endpoint wire-format versions.
const (
	// VersionV1 is the Tables-array shape: {"Tables": [...]} with a trailing
	// index table tagging each earlier table's kind.
	VersionV1 = "v1"

	// VersionV2 is the list-of-frames shape: an ordered array of frame
	// objects tagged by FrameType.
	VersionV2 = "v2"
)

// Index-table row tags (v1) and frame table kinds (v2).
const (
	kindPrimaryResult      = "PrimaryResult"
	kindGenericResult      = "GenericResult"
	kindQueryStatus        = "QueryStatus"
	nameExtendedProperties = "@ExtendedProperties"
)

// Unified is the normalized query result: every backend wire shape reduces to
// an ordered list of tables, of which one or more are tagged primary.
type Unified struct {
	Version string

	raw        interface{}
	allTables  []*Table
	primary    []*Table
	exceptions []interface{}
}

// Normalize decodes a raw JSON response body in the given wire-format version
// into a Unified response.
func Normalize(body []byte, version string) (*Unified, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return NormalizeValue(raw, version)
}

// NormalizeValue normalizes an already-decoded JSON response.
func NormalizeValue(raw interface{}, version string) (*Unified, error) {
	u := &Unified{Version: version, raw: raw}

	switch version {
	case VersionV2:
		frames, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("v2 response must be a list of frames, got %T", raw)
		}
		u.normalizeFrames(frames)
	case VersionV1:
		envelope, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("v1 response must be an object, got %T", raw)
		}
		if err := u.normalizeTables(envelope); err != nil {
			return nil, err
		}
		if exceptions, ok := envelope["Exceptions"].([]interface{}); ok {
			u.exceptions = exceptions
		}
	default:
		return nil, fmt.Errorf("unknown endpoint version %q", version)
	}
	return u, nil
}

// NormalizeSchema wraps a schema metadata response. The metadata document is
// not guaranteed to carry either query wire shape: when a Tables array is
// present it normalizes as v1, otherwise the decoded document itself becomes
// a single dynamic cell (and stays reachable through Raw).
func NormalizeSchema(body []byte) (*Unified, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse schema response: %w", err)
	}
	if envelope, ok := raw.(map[string]interface{}); ok {
		if _, ok := envelope["Tables"].([]interface{}); ok {
			return NormalizeValue(raw, VersionV1)
		}
	}
	table := &Table{
		Name:    "Schema",
		Kind:    kindPrimaryResult,
		columns: []Column{{Name: "Schema", Type: "dynamic"}},
		rows:    [][]interface{}{{raw}},
	}
	return &Unified{
		Version:   VersionV1,
		raw:       raw,
		allTables: []*Table{table},
		primary:   []*Table{table},
	}, nil
}

// normalizeFrames handles the list-of-frames shape: every DataTable frame is
// a table, and frames tagged PrimaryResult are the visible results.
func (u *Unified) normalizeFrames(frames []interface{}) {
	for _, f := range frames {
		frame, ok := f.(map[string]interface{})
		if !ok {
			continue
		}
		if frameType, _ := frame["FrameType"].(string); frameType != "DataTable" {
			continue
		}
		table := decodeTable(frame)
		u.allTables = append(u.allTables, table)
		if table.Kind == kindPrimaryResult {
			u.primary = append(u.primary, table)
		}
	}
	if len(u.primary) == 0 && len(u.allTables) > 0 {
		u.primary = u.allTables[:1]
	}
}

// normalizeTables handles the Tables-array shape. The last table is an index:
// each of its rows is [tableOrdinal, id, kind, ...], and rows tagged
// GenericResult or PrimaryResult select the primary data tables. When nothing
// is tagged, the first table is the result.
func (u *Unified) normalizeTables(envelope map[string]interface{}) error {
	rawTables, ok := envelope["Tables"].([]interface{})
	if !ok {
		return fmt.Errorf("v1 response is missing the Tables array")
	}
	for _, t := range rawTables {
		table, ok := t.(map[string]interface{})
		if !ok {
			return fmt.Errorf("v1 table entry must be an object, got %T", t)
		}
		u.allTables = append(u.allTables, decodeTable(table))
	}
	if len(u.allTables) == 0 {
		return nil
	}

	index := u.allTables[len(u.allTables)-1]
	for _, row := range index.rows {
		ordinal, kind, ok := indexRowTag(row)
		if !ok {
			continue
		}
		if kind == kindGenericResult || kind == kindPrimaryResult {
			if ordinal >= 0 && ordinal < len(u.allTables) {
				tagged := u.allTables[ordinal]
				tagged.Kind = kindPrimaryResult
				u.primary = append(u.primary, tagged)
			}
		}
	}
	if len(u.primary) == 0 {
		u.primary = u.allTables[:1]
	}
	return nil
}

// indexRowTag extracts the [ordinal, _, kind, ...] pair from an index row.
func indexRowTag(row []interface{}) (int, string, bool) {
	if len(row) < 3 {
		return 0, "", false
	}
	ordinal, ok := toInt(row[0])
	if !ok {
		return 0, "", false
	}
	kind, ok := row[2].(string)
	if !ok {
		return 0, "", false
	}
	return ordinal, kind, true
}

// PrimaryResults returns the tables tagged as primary, falling back to the
// first table when nothing was tagged.
func (u *Unified) PrimaryResults() []*Table { return u.primary }

// AllTables returns every table in the response.
func (u *Unified) AllTables() []*Table { return u.allTables }

// TableCount returns the number of primary tables.
func (u *Unified) TableCount() int { return len(u.primary) }

// Raw returns the decoded raw response.
func (u *Unified) Raw() interface{} { return u.raw }

// HasExceptions reports whether the response carried an Exceptions array.
func (u *Unified) HasExceptions() bool { return len(u.exceptions) > 0 }

// Exceptions returns the exception messages, if any.
func (u *Unified) Exceptions() []string { return stringsFromAny(u.exceptions) }

// Visualization returns the decoded rendering-hint object from the
// @ExtendedProperties table, if present.
func (u *Unified) Visualization() map[string]interface{} {
	if u.Version == VersionV2 {
		for _, table := range u.allTables {
			if table.Name != nameExtendedProperties {
				continue
			}
			for _, row := range table.rows {
				if len(row) >= 3 {
					if tag, _ := row[1].(string); tag == "Visualization" {
						return decodeJSONCell(row[2])
					}
				}
			}
		}
		return nil
	}
	for _, row := range u.indexRows() {
		ordinal, kind, ok := indexRowTag(row)
		if !ok || kind != nameExtendedProperties {
			continue
		}
		if ordinal >= 0 && ordinal < len(u.allTables) {
			table := u.allTables[ordinal]
			if len(table.rows) > 0 && len(table.rows[0]) > 0 {
				return decodeJSONCell(table.rows[0][0])
			}
		}
	}
	return nil
}

// CompletionQueryInfo returns the query completion status dictionary.
func (u *Unified) CompletionQueryInfo() map[string]interface{} {
	if u.Version == VersionV2 {
		return u.completionPayload("QueryInfo")
	}
	for _, row := range u.statusRows() {
		if len(row) >= 6 {
			if tag, _ := row[2].(string); tag == "Info" {
				return map[string]interface{}{
					"StatusCode":        row[3],
					"StatusDescription": row[4],
					"Count":             row[5],
				}
			}
		}
	}
	return nil
}

// CompletionResourceConsumption returns the resource-consumption statistics
// dictionary.
func (u *Unified) CompletionResourceConsumption() map[string]interface{} {
	if u.Version == VersionV2 {
		return u.completionPayload("QueryResourceConsumption")
	}
	for _, row := range u.statusRows() {
		if len(row) >= 5 {
			if tag, _ := row[2].(string); tag == "Stats" {
				return decodeJSONCell(row[4])
			}
		}
	}
	return nil
}

// completionPayload scans the v2 QueryCompletionInformation table for an
// event of the given type and decodes its payload.
func (u *Unified) completionPayload(eventType string) map[string]interface{} {
	for _, table := range u.allTables {
		if table.Name != "QueryCompletionInformation" {
			continue
		}
		eventIdx := indexOfColumn(table.columns, "EventTypeName")
		payloadIdx := indexOfColumn(table.columns, "Payload")
		if eventIdx < 0 || payloadIdx < 0 {
			continue
		}
		for _, row := range table.rows {
			if len(row) <= eventIdx || len(row) <= payloadIdx {
				continue
			}
			if tag, _ := row[eventIdx].(string); tag == eventType {
				return decodeJSONCell(row[payloadIdx])
			}
		}
	}
	return nil
}

// indexRows returns the rows of the v1 trailing index table.
func (u *Unified) indexRows() [][]interface{} {
	if len(u.allTables) == 0 {
		return nil
	}
	return u.allTables[len(u.allTables)-1].rows
}

// statusRows returns the rows of the v1 table tagged QueryStatus.
func (u *Unified) statusRows() [][]interface{} {
	for _, row := range u.indexRows() {
		ordinal, kind, ok := indexRowTag(row)
		if !ok || kind != kindQueryStatus {
			continue
		}
		if ordinal >= 0 && ordinal < len(u.allTables) {
			return u.allTables[ordinal].rows
		}
	}
	return nil
}
