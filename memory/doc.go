// Package memory contains long term MemoryStore implementations and the tools
// that let a model read and write them. The store contract and MemoryPiece
// live in the core package; depend on core.MemoryStore and pick an
// implementation at wiring time.
package memory
