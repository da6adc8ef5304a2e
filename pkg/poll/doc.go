// Package poll provides the polling/caching engine that every dashboard data
// accessor is built on.
//
// An Item memoizes the result of one expensive remote call. It serves the
// last good value while it is fresh, refreshes it when its TTL has passed and
// never runs more than one fetch at a time, however many goroutines ask for
// data. Once an item has held a value it never blocks a reader again: stale
// values are returned immediately while a refresh runs in the background.
// Only a read with no value at all, on first access or after ForceClear,
// waits for a fetch to complete.
//
// Every Item joins a Registry when it is constructed and leaves it when it is
// closed. A Scheduler walks the registry on a ticker and refreshes stale
// items even when nobody is reading them, so reads are normally served from
// already-fresh data.
//
// Fetch failures are never fatal. They are recorded on the item, reported to
// any Observer, and surfaced through Status so a dashboard can show "last
// updated at T, currently failing" instead of an empty panel.
package poll
