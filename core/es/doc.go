// Package es implements a per-aggregate event-sourcing storage engine.
//
// One Store owns the ordered event log and the materialized projection of a
// single aggregate. Events are appended into typed streams, folded into the
// projection, reacted to by side-effecting reactors with independent retry
// tracking, and committed atomically together with the projection head using
// optimistic concurrency.
//
// The engine assumes a single active writer per aggregate: the host must
// serialize Append/ApplyEvents/ReactEvents/Commit calls on one Store (see
// core/host). Different Store instances are fully independent.
package es
