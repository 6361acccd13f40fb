// Package activity keeps a bounded feed of recent edits.
//
// Edits are classified from the length difference between the previous and
// the new document content, not from a diff. A replace of equal length is
// recorded as a delete of nothing; the feed is an approximation.
//
// Invariants:
// - The log never holds more than its capacity; the oldest entry is evicted first.
// - Recent returns entries newest first.
package activity
