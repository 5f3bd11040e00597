// Package scheduler picks the device a message is dispatched to.
//
// Policies are called concurrently by every worker and must never block.
// RoundRobin is the default: a single atomic counter shared by all workers,
// so that over any window of k·N selections each of the N devices is chosen
// exactly k times. LeastLoaded prefers the device with the fewest
// outstanding submissions.
package scheduler
