// Package args validates and coerces loosely typed parameter mappings
// (configuration entries, search parameters) against declared specs.
//
// A Parser is built once from an ordered list of Specs. Parse checks every
// field, collects all problems into a single ValidationError and only returns
// a ParameterSet when the whole input is valid.
package args
