// Package core provides the business logic for importing and categorising
// bank transactions.
//
// The package is independent of any transport. The HTTP server, the
// websocket endpoint and the command-line tools all go through [Service].
//
// # Architecture
//
// A [Service] ties together:
//
//   - ingest: format detection and parsing of uploaded CSV files.
//   - store: persistence of batches, records, rules and categories.
//   - category: the in-memory catalog with usage counters.
//   - rules and similar: read-only helpers that propose a category.
//   - synchub: fan-out of record and progress changes to observers.
//
// # Upload Flow
//
//  1. The caller passes the raw bytes to [Service.Ingest].
//  2. The format and encoding are detected from the header.
//  3. Rows are parsed. Structural errors abort; unusable rows are skipped
//     and reported on the result.
//  4. The records are stored as one batch and its progress is seeded.
//
// Concurrent uploads are bounded by an [IngestLimiter].
//
// # Categorisation
//
// [Service.SetCategory] persists the change before anything is published.
// Observers of the record's batch then receive record-mutated and
// progress-changed, plus group-complete when the batch became fully
// categorised. The batch status follows the progress unless it is archived.
//
// # Error Handling
//
// Errors are mapped to short coded messages with [MapError]. See
// error_messages.go for the list of codes.
package core
