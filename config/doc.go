// Package config loads and validates tabvec configuration.
//
// Two documents are handled here. Config holds service settings: data
// directory, worker count, registry backend, embedding service and retention.
// RunConfig holds the settings of one processing run, organized in the four
// sections preprocessing, chunking, embedding and storage. A run config names
// a layer mode (fast, config or deep) whose defaults fill every setting the
// user leaves out.
//
// Both documents load from TOML or YAML, chosen by file extension.
package config
