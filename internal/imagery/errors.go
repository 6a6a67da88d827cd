package imagery

import "errors"

// ErrNoImagery means the provider has no suitable scene inside the search
// window. The user can widen the date range or move the area; retrying the
// same request will not help.
var ErrNoImagery = errors.New("no imagery available for the requested area and date window")

// ErrProviderUnavailable marks transient provider failures (network errors,
// timeouts, 5xx). The fetcher retries such a failure once before surfacing it.
var ErrProviderUnavailable = errors.New("imagery provider unavailable")
