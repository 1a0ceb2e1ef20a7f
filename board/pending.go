package board

import "context"

// Pending is the handle of an optimistic mutation whose remote confirmation may
// still be in flight. The local change is already visible when it is returned.
type Pending struct {
	done chan struct{}
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func resolved(err error) *Pending {
	p := newPending()
	p.settle(err)
	return p
}

func (p *Pending) settle(err error) {
	p.err = err
	close(p.done)
}

// Done is closed once the remote call has settled and any rollback has been applied.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the remote failure. It is only meaningful after Done is closed.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the mutation settles or ctx is done.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
