// Package intake turns producer requests into kernel jobs.
//
// Request is the JSON submission format shared by every producer. The MQTT
// producer subscribes to {prefix}/submit, enqueues a job per request, and
// publishes the job's result to {prefix}/result/{id}. Jobs the server
// refuses are answered immediately with status "rejected".
//
// Forwarder mirrors dispatch events to {prefix}/events/{kind}. Publishing
// happens on its own goroutine so the worker emitting an event never waits
// on the broker.
package intake
