// Package cache implements the tiered result cache: a bounded in-memory
// LRU level, a size-capped durable disk level, and a Manager composing the
// two with write-through puts and promote-on-hit reads.
package cache
