// Package io defines the sources and sinks of consumption readings.
package io

import "github.com/hed1ad/dace/pkg/consumption"

// Reader is the interface for reading readings from various sources.
type Reader interface {
	// Read returns the complete series in source order.
	Read() ([]consumption.Reading, error)

	// Close releases resources.
	Close() error
}

// Writer is the interface for writing scored readings.
type Writer interface {
	// Write outputs a single scored reading.
	Write(row consumption.ScoredReading) error

	// WriteAll outputs multiple scored readings.
	WriteAll(rows []consumption.ScoredReading) error

	// Close flushes and releases resources.
	Close() error
}
