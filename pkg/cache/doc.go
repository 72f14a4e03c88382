// Package cache provides a generic read-through cache for snapshot reads of
// override and subscription records.
//
// Entries expire after a short TTL, so a write may take up to one TTL to be
// observed by cached readers. Stores that own the writes call Invalidate
// after mutating a key. Usage counters are never cached.
package cache
