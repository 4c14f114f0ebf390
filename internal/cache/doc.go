// Package cache owns the on-disk beatmap archive cache. Archives live as
// StoragePath/cache/<8 lower-case hex digits of the set id>; incoming bytes are
// staged under StoragePath/tmp and renamed into place only after the byte
// budget has been secured. The Manager keeps an in-memory size counter seeded
// by a directory scan at construction, evicts entries through the usage
// metadata in cachedb when the budget would be exceeded, and serialises every
// size-relevant mutation behind a single lock. HTTP handlers and the CLI depend
// on this package instead of touching the cache directory themselves.
package cache
