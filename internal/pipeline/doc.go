// Package pipeline runs a fixed sequence of steps against shared state.
//
// Steps run strictly one after another. A step error either stops the
// pipeline or, when the configured recover function accepts it, is logged
// and the next step runs. The refresh coordinator uses this to keep the
// exit-list and address lookups independent of each other's transient
// failures while still aborting on the failures it must escalate.
package pipeline
