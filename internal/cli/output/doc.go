// Package output renders segmesh-cli results as tables, JSON or YAML.
//
// Table output derives columns from json tags; a `table:"wide"` tag hides
// a column unless --wide is set and `table:"-"` always hides it. Values
// implementing fmt.Stringer (server ids, addresses, boxes, object ids)
// print through String.
//
// YAML output goes through the JSON encoding so both formats use the same
// field names.
package output
