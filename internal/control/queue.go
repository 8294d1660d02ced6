package control

import (
	"context"
	"errors"
	"fmt"
)

// ErrStopped is returned by Queue.Do once the control loop has stopped.
var ErrStopped = errors.New("control loop stopped")

// Op is a Control Surface operation reachable from outside the loop.
type Op string

const (
	OpStatus      Op = "status"
	OpToggle      Op = "toggle"
	OpAllOff      Op = "alloff"
	OpFlipRestore Op = "eepromflag"
)

// Command is a single request for the control loop.
type Command struct {
	Op      Op
	Channel int // OpToggle only
}

// Result is the loop's answer to a Command. Status is always filled in,
// even when Err is set.
type Result struct {
	Status Status
	Err    error
}

// Request pairs a Command with the channel its Result is sent on.
type Request struct {
	Cmd   Command
	reply chan Result
}

// Apply executes the request against s and sends the result. It never blocks.
func (r Request) Apply(s *Surface) {
	err := Execute(s, r.Cmd)
	r.reply <- Result{Status: s.Status(), Err: err}
}

// Execute runs cmd against s.
func Execute(s *Surface, cmd Command) error {
	switch cmd.Op {
	case OpStatus:
		return nil
	case OpToggle:
		return s.Toggle(cmd.Channel)
	case OpAllOff:
		return s.AllOff()
	case OpFlipRestore:
		return s.FlipRestoreFlag()
	}
	return fmt.Errorf("unknown op %q", cmd.Op)
}

// Queue serializes commands from many goroutines onto the single goroutine
// that owns the Surface.
type Queue struct {
	reqs chan Request
	done chan struct{}
}

// NewQueue creates a queue holding up to size pending requests.
func NewQueue(size int) *Queue {
	return &Queue{
		reqs: make(chan Request, size),
		done: make(chan struct{}),
	}
}

// Requests is read by the owning loop.
func (q *Queue) Requests() <-chan Request {
	return q.reqs
}

// Do submits cmd and waits for the loop to apply it.
// It returns ctx.Err() if the context ends first and ErrStopped once the
// queue is closed, unless the loop already applied cmd.
func (q *Queue) Do(ctx context.Context, cmd Command) (Status, error) {
	req := Request{Cmd: cmd, reply: make(chan Result, 1)}

	select {
	case q.reqs <- req:
	case <-q.done:
		return Status{}, ErrStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}

	var err error
	select {
	case res := <-req.reply:
		return res.Status, res.Err
	case <-q.done:
		err = ErrStopped
	case <-ctx.Done():
		err = ctx.Err()
	}

	// A request applied just before the loop stopped still has its answer.
	select {
	case res := <-req.reply:
		return res.Status, res.Err
	default:
		return Status{}, err
	}
}

// Drain applies every request already waiting, without blocking.
// It returns the number applied.
func (q *Queue) Drain(s *Surface) int {
	n := 0
	for {
		select {
		case req := <-q.reqs:
			req.Apply(s)
			n++
		default:
			return n
		}
	}
}

// Close tells waiting and future callers the loop is gone.
// It must be called at most once, by the owner.
func (q *Queue) Close() {
	close(q.done)
}
