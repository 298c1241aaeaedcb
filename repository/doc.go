// Package repository provides the generic per-kind store used for
// infrastructures and their child objects.
//
// Batch inserts are split by InsertChunked so that no statement exceeds the
// driver's bind parameter ceiling: with F bound fields per record and a limit
// of M parameters, each statement carries floor(M/F) records (at least one).
// Chunks run in the caller's transaction, so a failing chunk rolls back the
// ones before it once the caller aborts.
package repository
