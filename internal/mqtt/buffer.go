package mqtt

// bufferedMsg is a serialized message waiting for the broker.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// offlineQueue holds messages published while the broker is unreachable.
// At its limit a push evicts the oldest QoS 0 message, so lifecycle events
// outlive a burst of transitions; with none queued the oldest message goes.
// Callers synchronize.
type offlineQueue struct {
	msgs    []bufferedMsg
	limit   int
	dropped int // since the last drain
}

func newOfflineQueue(limit int) *offlineQueue {
	return &offlineQueue{msgs: make([]bufferedMsg, 0, limit), limit: limit}
}

// push queues msg. It reports the evicted message, if any.
func (q *offlineQueue) push(msg bufferedMsg) (bufferedMsg, bool) {
	if q.limit <= 0 {
		q.dropped++
		return msg, true
	}
	var evicted bufferedMsg
	full := len(q.msgs) == q.limit
	if full {
		victim := 0
		for i, m := range q.msgs {
			if m.qos == 0 {
				victim = i
				break
			}
		}
		evicted = q.msgs[victim]
		q.msgs = append(q.msgs[:victim], q.msgs[victim+1:]...)
		q.dropped++
	}
	q.msgs = append(q.msgs, msg)
	return evicted, full
}

// drain empties the queue, oldest first, and reports how many messages were
// evicted since the previous drain.
func (q *offlineQueue) drain() ([]bufferedMsg, int) {
	msgs, dropped := q.msgs, q.dropped
	q.msgs = make([]bufferedMsg, 0, q.limit)
	q.dropped = 0
	if len(msgs) == 0 {
		msgs = nil
	}
	return msgs, dropped
}

func (q *offlineQueue) len() int {
	return len(q.msgs)
}
