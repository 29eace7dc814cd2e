package watch

import "spreadwatch/internal/domain/model"

// batchCursor walks a pair universe in fixed-size batches, round-robin.
// Successive calls cover every pair before any pair repeats; a full pass
// bumps the cycle counter, which the scheduler uses for source rotation.
type batchCursor struct {
	universe  []model.InstrumentPair
	batchSize int
	index     int
	cycles    int
}

func newBatchCursor(batchSize int) *batchCursor {
	if batchSize < 1 {
		batchSize = 1
	}
	return &batchCursor{batchSize: batchSize}
}

// setUniverse swaps in the current membership. The position is kept so an
// unrelated membership change does not restart coverage, only clamped when
// the universe shrank beneath it.
func (c *batchCursor) setUniverse(pairs []model.InstrumentPair) {
	c.universe = pairs
	if c.index >= len(pairs) {
		c.index = 0
	}
}

// next returns the upcoming batch and advances. Wrapping to the start
// counts as one completed cycle. The final batch of a pass may be short;
// batches never mix the tail of one pass with the head of the next.
func (c *batchCursor) next() []model.InstrumentPair {
	if len(c.universe) == 0 {
		return nil
	}

	end := c.index + c.batchSize
	if end > len(c.universe) {
		end = len(c.universe)
	}
	batch := c.universe[c.index:end]

	c.index = end
	if c.index >= len(c.universe) {
		c.index = 0
		c.cycles++
	}
	return batch
}

// fullCycles reports how many complete passes over the universe finished.
func (c *batchCursor) fullCycles() int {
	return c.cycles
}
