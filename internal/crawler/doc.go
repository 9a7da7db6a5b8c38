// Package crawler turns remote data repositories into lazy, resumable
// sequences of raw metadata records.
//
// Two state machines cover the supported repositories: Paginated walks
// page-numbered search APIs (resto, CMR) and Directory walks folder trees
// (HTML index pages, local filesystems). Both apply a client-side Filter to
// every record, retry transient request failures with ExponentialRetryPolicy
// and honour a cooperative stop flag before each new remote request.
package crawler
