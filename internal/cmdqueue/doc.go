// Package cmdqueue owns one device command queue per registered device.
//
// The set is created once during startup over a single device context and is
// shared by every worker. Submissions to the same device are serialised by a
// per-queue mutex; submissions to different devices never contend.
package cmdqueue
