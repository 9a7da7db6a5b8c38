// Package ingest drains crawler output into the catalog.
//
// An Ingester runs two worker pools joined by a bounded queue. Fetch workers
// pull raw records from a Source and normalize them; write workers dequeue
// the datasets and write them to the catalog. A full queue blocks the fetch
// workers, so memory stays bounded by the queue capacity whatever the size
// of the repository.
//
// Per-record problems never abort a run: normalization failures are logged
// and quarantined, duplicate writes are no-ops and other write failures are
// logged and skipped. Only a Source error other than io.EOF or
// crawler.ErrStopped, or cancellation of the run context, is returned.
package ingest
