// Package mirror fills cache misses from an upstream beatmap mirror. The
// upstream is a URL template with a single %d verb for the set id; concurrent
// misses for the same id share one upstream request and the archive is
// written through cache.Manager so the byte budget applies to fetched data.
package mirror
