package runtime

import (
	"context"
	"slices"
	"sync"

	"github.com/pithecene-io/exifpipe/types"
)

// Pending is the handle for one request. It settles exactly once, with
// the output correlated to it or with the failure that prevented it from
// arriving.
type Pending struct {
	id   uint64
	args []string

	once   sync.Once
	done   chan struct{}
	result types.Result

	// finalize runs before the result is published and may replace it.
	finalize func(types.Result) types.Result

	// Output collected by the owning session, guarded by its mu.
	frames    []types.Result
	errs      []error
	stdoutEnd bool
	stderrEnd bool
}

// complete reports whether both streams have marked the end of the
// request's output.
func (p *Pending) complete() bool {
	return p.stdoutEnd && p.stderrEnd
}

// collected reports whether any output or marker was seen for the request.
func (p *Pending) collected() bool {
	return p.stdoutEnd || p.stderrEnd || len(p.frames) > 0 || len(p.errs) > 0
}

func newPending(id uint64, args []string, finalize func(types.Result) types.Result) *Pending {
	return &Pending{
		id:       id,
		args:     slices.Clone(args),
		done:     make(chan struct{}),
		finalize: finalize,
	}
}

// ID returns the request's position in its session, starting at 1. A
// stream that could not be staged never reaches the session and has ID 0.
func (p *Pending) ID() uint64 {
	return p.id
}

// Args returns the caller's arguments for this request.
func (p *Pending) Args() []string {
	return slices.Clone(p.args)
}

// Done is closed once the result is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the settled result. ok is false while the request is
// still outstanding.
func (p *Pending) Result() (result types.Result, ok bool) {
	select {
	case <-p.done:
		return p.result, true
	default:
		return types.Result{}, false
	}
}

// Wait blocks until the request settles or ctx is done. A canceled wait
// does not cancel the request.
func (p *Pending) Wait(ctx context.Context) (types.Metadata, error) {
	select {
	case <-p.done:
		return p.result.Metadata, p.result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settle publishes r. Later calls are ignored.
func (p *Pending) settle(r types.Result) bool {
	settled := false
	p.once.Do(func() {
		if p.finalize != nil {
			r = p.finalize(r)
		}
		p.result = r
		close(p.done)
		settled = true
	})
	return settled
}
