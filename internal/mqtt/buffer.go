package mqtt

import (
	"slices"

	"github.com/charmbracelet/log"
)

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while the broker is unreachable, oldest
// first. A retained message replaces any retained message already queued for
// its topic, so each channel state topic holds at most its latest state.
// When full the oldest message is dropped.
// Not safe for concurrent use; caller must synchronize.
type outbox struct {
	log      *log.Logger
	msgs     []bufferedMsg
	capacity int

	dropped    int // lost to overflow since last drain
	superseded int // replaced by a newer retained message since last drain
}

func newOutbox(capacity int, logger *log.Logger) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &outbox{log: logger, capacity: capacity}
}

func (o *outbox) push(msg bufferedMsg) {
	if msg.retained {
		i := slices.IndexFunc(o.msgs, func(m bufferedMsg) bool {
			return m.retained && m.topic == msg.topic
		})
		if i >= 0 {
			o.msgs = slices.Delete(o.msgs, i, i+1)
			o.superseded++
		}
	}
	if len(o.msgs) == o.capacity {
		if o.dropped == 0 {
			o.log.Warn("buffer full, dropping oldest", "capacity", o.capacity)
		}
		o.msgs = slices.Delete(o.msgs, 0, 1)
		o.dropped++
	}
	o.msgs = append(o.msgs, msg)
}

// drain returns the queued messages and how many were lost since the last
// drain, then empties the outbox.
func (o *outbox) drain() (msgs []bufferedMsg, dropped int) {
	msgs, dropped = o.msgs, o.dropped
	o.msgs = nil
	o.dropped = 0
	o.superseded = 0
	return msgs, dropped
}

func (o *outbox) len() int {
	return len(o.msgs)
}
