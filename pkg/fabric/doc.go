/*
Package fabric provides the pub/sub message fabric carrying progress and
status events.

Three interchangeable backends implement the Fabric interface:

  - Memory: in-process dispatcher; callbacks run synchronously under a
    lock-protected subscriber list. Used in tests and single-process runs.
  - SocketHub: broadcast fan-out over websockets plus a single registered
    host callback. Slow websocket clients are skipped, never waited on.
  - Redis: external pub/sub service; a background receive loop dispatches
    redis channel messages to registered callbacks.

Within one topic and one publisher, delivery order matches publication
order. There is no durability: subscribers that miss messages while
disconnected do not recover them. Publish failures are counted and logged
by callers; they never block task state mutation.
*/
package fabric
