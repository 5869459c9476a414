package cfsm

import (
	"github.com/pmezard/go-difflib/difflib"
)

// Diff renders a unified diff between two machine dumps. It is used in
// diagnostics and test failure output; an empty string means the machines
// render identically.
func Diff(a, b *Machine) string {
	left := Dump(a)
	right := Dump(b)
	if left == right {
		return ""
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(left),
		B:        difflib.SplitLines(right),
		FromFile: string(a.Role),
		ToFile:   string(b.Role),
		Context:  2,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}
