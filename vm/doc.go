// Package vm implements the snap virtual machine.
//
// This package contains:
//   - NaN-boxed value representation
//   - A handle-addressed object heap with mark-and-sweep collection
//   - Robin-hood hash tables and string interning
//   - Closures with open and closed upvalues
//   - The bytecode interpreter, a single-step debugger and a profiler
package vm
