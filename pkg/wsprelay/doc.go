// Package wsprelay fans chunks out from one source channel to any number of sink
// channels.
//
// A Session opens the endpoints and hands them to a Router, which runs one reader
// task for the source and one writer task per sink. Each sink has a bounded queue
// whose overflow policy depends on the sink's kind: stdio sinks block the source,
// UDP and WebSocket sinks drop their oldest queued chunk. A failing sink is removed
// without disturbing the others; the relay ends when the source ends, when the
// last sink is gone, or on shutdown.
package wsprelay
