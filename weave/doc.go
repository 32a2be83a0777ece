// Package weave implements a message-oriented transport protocol layered on
// top of any reliable, order-preserving byte stream. One physical connection
// (channel) carries many independent logical streams; each stream is opened
// with a priority and a set of promises declaring its delivery guarantees:
// ordering, integrity checking, guaranteed delivery, compression and
// encryption. Messages are fragmented into size-bounded frames, scheduled
// across streams by priority and reassembled on the far side, so a large
// transfer on one stream never blocks the others.
package weave
