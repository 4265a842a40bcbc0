package directive

import "context"

// CheckpointChannel is the production CheckpointGate: a small buffered
// signal channel fed by whatever reads the host process-event bus
// (checkpoint:continue / checkpoint:quit, §6) and drained by Wait.
type CheckpointChannel struct {
	resolve chan bool
}

// NewCheckpointChannel constructs a CheckpointChannel.
func NewCheckpointChannel() *CheckpointChannel {
	return &CheckpointChannel{resolve: make(chan bool, 1)}
}

// Continue unblocks a pending Wait with continue_=true. A Continue with
// no pending Wait is remembered for the next Wait call.
func (c *CheckpointChannel) Continue() {
	c.send(true)
}

// Quit unblocks a pending Wait with continue_=false.
func (c *CheckpointChannel) Quit() {
	c.send(false)
}

func (c *CheckpointChannel) send(v bool) {
	select {
	case c.resolve <- v:
	default:
		// A resolution is already queued; the checkpoint can only be
		// resolved once, so a duplicate signal is a no-op.
	}
}

// Wait implements CheckpointGate: it blocks until Continue/Quit is
// called or ctx is cancelled, in which case it reports quit (false).
func (c *CheckpointChannel) Wait(ctx context.Context) bool {
	select {
	case v := <-c.resolve:
		return v
	case <-ctx.Done():
		return false
	}
}
