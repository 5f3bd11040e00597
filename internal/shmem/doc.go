// Package shmem maps the shared-memory segment that producers and devices
// exchange payloads through, and pins it with the device context zone by
// zone.
//
// The segment is cut into zones no larger than the registry's zone length
// (the smallest per-device allocation limit), so every zone can be
// registered with every device. Pinning is all-or-nothing: if any zone
// fails, the zones already pinned are released and startup aborts.
package shmem
