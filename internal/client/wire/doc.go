// Package wire maps records between their local camelCase form and the
// snake_case rows exchanged with the remote store. Every entity has a pure
// ToWire/FromWire pair.
package wire
