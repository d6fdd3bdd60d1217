package poller

import "errors"

// ErrRefreshFailed wraps the cause of a failed inventory fetch. The
// previously cached inventory stays authoritative.
var ErrRefreshFailed = errors.New("poller: refresh failed")
