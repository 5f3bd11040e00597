// Package hostsim is a software accel driver that runs device work on
// goroutines.
//
// Each simulated device is described by an accel.DeviceInfo. An in-order
// queue runs one item at a time; an out-of-order queue runs up to
// ComputeUnits items concurrently. Enqueue never blocks on the work.
//
// Faults can be injected per platform so that startup failure paths
// (context creation, queue creation, buffer pinning) can be exercised.
package hostsim
