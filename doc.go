// Package sharedlock implements a distributed reader/writer lock service:
// a per-key state machine admitting either one exclusive writer or up to a
// configurable number of concurrent readers, backed by a pluggable
// Storage Contract (see the storage package and its memory, redisstore,
// and sqlstore implementations) and an event bus (see eventbus) for
// observing committed transitions.
//
// A Provider owns a Store and a Bus. Handles are cheap values created from
// a Provider that drive the state machine for one (key, owner) pair. They
// cache no record state; the only field a Handle updates is the time of
// its last acquisition, used to report hold duration on release. The RunWithWriter/RunWithReader family wraps
// acquire-work-release into a single scoped call with guaranteed release.
package sharedlock
