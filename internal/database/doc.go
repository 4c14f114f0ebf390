// Package database opens the SQLite file shared by the cache metadata store and
// the beatmap catalog. It applies connection pragmas once and hands the *sql.DB
// to the packages that own their tables (cachedb, catalog); schema creation
// stays with those packages so each can be tested against a fresh database.
package database
