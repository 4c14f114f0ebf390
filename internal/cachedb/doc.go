// Package cachedb persists per-archive usage metadata (download count and last
// download time) keyed by beatmap set id. A row is expected to exist exactly
// when the matching archive file exists in the cache directory; the cache
// package keeps the two in step and tolerates drift in either direction.
package cachedb
