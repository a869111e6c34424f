// Package evthread implements the event-driven thread runtime spec §4.2
// describes: an EventThread owns one inbox mqueue.Queue and a chain of
// message handlers tried in registration order; a WorkGroup fans a single
// shared inbox out across a pool of worker goroutines.
//
// Grounded on original_source/include/epc/etevent.h (EThreadBasic's
// init/run/quit lifecycle and EThreadEventMessageData's message-id
// dispatch) and the teacher's pkg/worker.Worker (stopCh-based lifecycle)
// and pkg/events.Broker (select-loop dispatch, subscriber fan-out).
package evthread
