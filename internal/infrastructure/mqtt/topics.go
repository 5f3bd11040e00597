package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "offload"

// Topics builds the daemon's MQTT topics under a common prefix.
//
//	{prefix}/submit            job requests from producers
//	{prefix}/result/{id}       per-job results
//	{prefix}/events/{kind}     dispatch and lifecycle events
//	{prefix}/status            retained online/offline status (LWT)
//
// The zero value uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

// NewTopics returns topic builders for prefix. Surrounding slashes are
// trimmed and an empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	return Topics{Prefix: strings.Trim(prefix, "/")}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// Submit returns the topic producers publish job requests to.
//
// Example: offload/submit
func (t Topics) Submit() string {
	return t.prefix() + "/submit"
}

// Result returns the topic a job's result is published on.
//
// Example: offload/result/0b6f3c1e-...
func (t Topics) Result(id string) string {
	return fmt.Sprintf("%s/result/%s", t.prefix(), id)
}

// AllResults returns a wildcard matching every result topic.
func (t Topics) AllResults() string {
	return t.prefix() + "/result/+"
}

// Event returns the topic for events of one kind.
//
// Example: offload/events/dispatched
func (t Topics) Event(kind string) string {
	return fmt.Sprintf("%s/events/%s", t.prefix(), kind)
}

// AllEvents returns a wildcard matching every event topic.
func (t Topics) AllEvents() string {
	return t.prefix() + "/events/+"
}

// Status returns the retained status topic.
//
// Example: offload/status
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// All returns a wildcard matching every topic under the prefix.
func (t Topics) All() string {
	return t.prefix() + "/#"
}

// SharedSubmit returns a shared subscription on the submit topic. Brokers
// deliver each request to one member of group.
//
// Example: $share/workers/offload/submit
func (t Topics) SharedSubmit(group string) string {
	return fmt.Sprintf("$share/%s/%s", group, t.Submit())
}

// ValidFilter reports whether s is a well-formed subscription filter:
// non-empty, + only as a whole level, # only as the whole last level, and a
// $share prefix followed by a group and a filter.
func ValidFilter(s string) bool {
	if s == "" || strings.ContainsRune(s, 0) {
		return false
	}
	if rest, ok := strings.CutPrefix(s, "$share/"); ok {
		group, filter, found := strings.Cut(rest, "/")
		if !found || !ValidLevel(group) {
			return false
		}
		s = filter
		if s == "" {
			return false
		}
	}
	levels := strings.Split(s, "/")
	for i, l := range levels {
		switch {
		case l == "#":
			if i != len(levels)-1 {
				return false
			}
		case l == "+":
		case strings.ContainsAny(l, "+#"):
			return false
		}
	}
	return true
}

// ValidLevel reports whether s can be used as a single topic level:
// non-empty and free of separators and wildcards.
func ValidLevel(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#\x00")
}
