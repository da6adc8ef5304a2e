// Package sources provides data-source owners that build polled items on top
// of package poll: a Redis instance (configuration, slow log, key count),
// SQL and BigQuery queries, a Firestore document and GCS bucket usage.
//
// Every owner creates its items when it is constructed and unregisters them
// in Close. Operations that change remote state call ForceClear on the
// affected item so the next read fetches fresh data.
package sources
