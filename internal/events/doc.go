// ABOUTME: Package events provides the per-conversation fan-out event bus
// ABOUTME: Envelopes published by the agent loop reach all live subscribers of a conversation

// Package events implements the streaming core of the gateway: an immutable
// event envelope and an in-memory bus that fans envelopes out to every live
// subscriber of a conversation id, plus wildcard subscribers.
//
// Design notes:
//
//   - Delivery is best-effort. Subscribers that are offline at publish time
//     miss the envelope; there is no replay log.
//   - Within one conversation id, each subscriber sees envelopes in publish
//     order (FIFO per sink). There is no cross-conversation ordering.
//   - Each subscriber owns a bounded inbox. When it fills up, the newest
//     envelope is dropped for that subscriber only; the publisher never
//     blocks. This favors liveness of the agent loop over completeness of
//     the stream for slow consumers.
//   - Distribution is single-process only. Cross-process fan-out belongs to
//     a transport layer above this package.
package events
