// Package cache provides a bounded, concurrency-safe LRU cache.
//
// The embedding gateway keys it by a digest of model and text, so repeated
// texts skip the provider. Capacity is counted in entries. When a
// resource.Controller and a size function are supplied, the cache also
// accounts entry bytes against the controller's memory limit and declines to
// store values the limit cannot admit.
package cache
