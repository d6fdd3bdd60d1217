// Package poller keeps the Device Directory in line with the cloud
// inventory.
//
// Refresh serves a cached inventory while it is younger than the cache TTL
// and fetches otherwise; concurrent callers share one fetch. A failed
// fetch leaves the previous inventory in place and counts towards the
// degraded threshold.
package poller
