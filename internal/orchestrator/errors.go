package orchestrator

import "errors"

// errNotEligible signals that probeWorkload determined the small-direct
// fast path does not apply to this request (mirror deletion, forced
// checksum compare, or a workload that overflowed the small-path bounds).
// Callers treat it the same as any other probe failure: fall through to
// the full streaming plan.
var errNotEligible = errors.New("orchestrator: workload not eligible for small-direct fast path")

// errProbeOverflow is returned by the enumeration callback in
// probeWorkload once the small-path bounds are exceeded, to stop
// enumerating early rather than walking the entire source tree just to
// discard the result.
var errProbeOverflow = errors.New("orchestrator: probe overflow")
