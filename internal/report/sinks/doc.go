// Package sinks contains the built-in report.Sink implementations.
package sinks
