// Package query is the read-only façade over reconciled state.
//
// Reads go through the store's query-only connection pool and never take
// the per-key write section, so a read may lag an in-flight merge by at most
// one cycle. Nothing here mutates state.
package query
