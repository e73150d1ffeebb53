// Package resource bounds the work the pipeline puts on shared resources.
//
// A Controller combines three limits:
//
//   - In-flight slots: a weighted semaphore capping concurrent provider
//     batches (backpressure for the embedding gateway)
//   - Request rate: a token bucket applied before every provider call
//   - Memory and IO: fail-fast memory accounting for caches and a byte rate
//     limit for persisted index transfers
//
//	rc := resource.NewController(resource.Config{
//	    MaxInFlight:       4,
//	    RequestsPerSecond: 10,
//	})
//
//	if err := rc.AcquireSlot(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseSlot()
//
// All Controller methods are safe for concurrent use, and a nil Controller
// imposes no limits.
package resource
