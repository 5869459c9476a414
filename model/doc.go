// Package model contains the in-memory representation of global protocol
// definitions and supporting types used by the chorus analysis pipeline.
//
// A protocol is typically loaded from a YAML document into the structures
// defined here, or assembled programmatically via the builder helpers
// (Message, Seq, ChoiceAt, Rec, Par, Do). The `cfg` sub-package turns the
// interaction tree into an explicit control-flow graph.
package model
