// Package chunking turns a normalized table into an ordered sequence of text chunks.
//
// The method set is closed: fixed, recursive, semantic and document_based.
// Each method is a Strategy built by New, which validates parameters eagerly.
// A bad or missing parameter yields a core.InvalidParameterError before any
// chunk is produced. A failure while a strategy is running yields a
// core.ChunkingError, which callers may treat as recoverable.
//
// Every chunk is identified as {method}_chunk_{index:04d} and carries the
// indices of the rows it was built from.
package chunking
