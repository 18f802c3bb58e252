// Copyright (c) Composer Authors.
// Licensed under the MIT License.

/*
Package cache wraps a Redis client behind a small read-through cache used in
front of the composition store. Values are stored as JSON under a configurable
key prefix with a default TTL. Misses surface as ErrCacheMiss so callers can
fall through to the backing store; hit and miss counts feed the metrics
collector when one is attached.

The manager owns the client lifecycle: an initial ping at construction, an
optional background health check, and Close for shutdown.
*/
package cache
