// Package catalog stores beatmap set metadata together with the child beatmap
// records of each set, and moves the whole relation in and out of the
// length-prefixed dump format used for backup and bulk recovery:
//
//	[int32 little-endian record count][record 0]...[record n-1]
//
// Each record is a MessagePack array whose element order is fixed, so dumps
// written by older deployments stay readable. Children are re-attached from
// the beatmaps relation right before a set is encoded; their parent reference
// is recomputed on restore and never trusted from the stream.
package catalog
