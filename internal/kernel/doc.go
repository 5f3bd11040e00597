// Package kernel provides the named host kernels producers can request and
// Job, the message type that runs one of them on a device queue.
//
// A Job replies exactly once: "ok" with the kernel output after a
// successful run, "cancelled" if it was still queued at shutdown, or
// "failed" for any other error.
package kernel
