// Package chorus analyses multiparty message-passing protocols for
// communication safety. A protocol is written as a global choreography
// (either with the in-memory builders in package model or as a YAML
// document), compiled into a control flow graph, checked structurally,
// projected into one communicating state machine per role and finally
// explored execution by execution to confirm that every send has a matching
// receive.
//
// The Service type wires the phases together:
//
//	svc := chorus.New()
//	result, err := svc.CheckURL(ctx, "protocols/purchase.yaml")
package chorus
