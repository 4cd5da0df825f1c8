// Package vm executes IR programs directly.
//
// This package contains:
//   - the Tape: TapeSize byte cells addressed through a wrapping cursor
//   - a tree-walking Interpreter with buffered output
//   - step limits and context cancellation for bounding runs
//
// The interpreter is the reference backend: native code produced by package
// codegen must behave byte-for-byte the same.
package vm
