package module

import (
	"fmt"
	"strings"
)

// sanitizeName turns a MIR dotted/namespaced function name into a wat
// identifier-safe string: "::" collapses to ".", anything else outside
// [A-Za-z0-9_.] becomes "_".
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "::", ".")
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// RenderText produces the minimal `.wat`-like textual companion spec.md
// §4.5 "Emit-as-text" describes: a `(module` header, one
// `(import "<module>" "<name>" (func (type N)))` line per runtime import
// (chic_rt and env, then extern imports) in the order Build numbered them,
// then one `(func $<sanitised-name> (type N))` line per function in
// BuildInput.Functions order. It
// is not a general wasm-to-text decompiler: the instruction stream itself
// is not rendered, matching the contract's debugging-aid scope.
func RenderText(in BuildInput, m *Module) string {
	var b strings.Builder
	b.WriteString("(module\n")

	allImports := append(append([]RuntimeImport{}, StandardRuntimeImports()...), in.ExternImports...)
	for i, ri := range allImports {
		fmt.Fprintf(&b, "  (import %q %q (func (type %d)))\n", ri.Module, ri.Name, m.Imports[i].TypeIndex)
	}

	for i, fn := range in.Functions {
		fmt.Fprintf(&b, "  (func $%s (type %d))\n", sanitizeName(fn.Name), m.FuncTypeIndices[i])
	}

	b.WriteString(")\n")
	return b.String()
}
