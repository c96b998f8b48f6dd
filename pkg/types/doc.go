// Package types defines the data model and interfaces shared across the
// transfer core: enumeration records, transfer plans, change-journal
// tokens, performance-history records, and the structures negotiated
// between the control and data planes. It has no dependency on any other
// internal package so every subsystem can import it without cycles.
package types
