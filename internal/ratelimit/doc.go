// Package ratelimit implements the in-process fixed-window limiter that gates
// request frequency per caller and limit class.
//
// Every call to Check consumes a slot, including calls that end up denied, so a
// caller probing the limit keeps paying for it. Windows are hard fixed windows:
// a burst straddling a boundary can admit up to twice MaxRequests in a short
// span. That is accepted in exchange for O(1) memory per active identifier and
// O(1) checks.
//
// Counters are spread over a fixed set of shards, each with its own mutex, so
// checks for identifiers on different shards never contend. Expired counters
// are removed by Sweep, which Start runs on a ticker until its context is
// cancelled.
package ratelimit
