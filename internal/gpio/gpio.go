// Package gpio drives carrier operated squelch (COS) indicator lines.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"fmt"
	"sync"

	"github.com/sweeney/trunk-monitor/internal/logic"
)

// DefaultChip is the GPIO chip used when none is configured.
const DefaultChip = "gpiochip0"

// Writer drives output lines.
type Writer interface {
	// Set drives the line at offset high (true) or low.
	Set(offset int, high bool) error

	// Close releases GPIO resources.
	Close() error
}

// Indicator maps channel squelch edges onto indicator lines. A channel's
// line is high while any of its timeslots is unsquelched.
type Indicator struct {
	w Writer

	mu      sync.Mutex
	offsets map[string]int
	open    map[string]map[int]bool
}

// NewIndicator creates an Indicator. offsets maps channel names to line
// offsets; channels without a line are ignored.
func NewIndicator(w Writer, offsets map[string]int) *Indicator {
	return &Indicator{
		w:       w,
		offsets: offsets,
		open:    make(map[string]map[int]bool),
	}
}

// SquelchChanged applies a squelch edge. It only writes when the channel's
// line level changes.
func (i *Indicator) SquelchChanged(ch string, e logic.SquelchEvent) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	offset, ok := i.offsets[ch]
	if !ok {
		return nil
	}

	slots := i.open[ch]
	if slots == nil {
		slots = make(map[int]bool)
		i.open[ch] = slots
	}
	was := len(slots) > 0
	if e.State == logic.Unsquelch {
		slots[e.Timeslot] = true
	} else {
		delete(slots, e.Timeslot)
	}
	now := len(slots) > 0

	if was == now {
		return nil
	}
	if err := i.w.Set(offset, now); err != nil {
		return fmt.Errorf("set squelch line %d for %s: %w", offset, ch, err)
	}
	return nil
}

// Open reports whether the channel's line is high.
func (i *Indicator) Open(ch string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.open[ch]) > 0
}

// Offsets returns the configured line offsets in no particular order.
func (i *Indicator) Offsets() []int {
	out := make([]int, 0, len(i.offsets))
	for _, offset := range i.offsets {
		out = append(out, offset)
	}
	return out
}
