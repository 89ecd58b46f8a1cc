package agentrunner

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Runner double. Responses are consumed in FIFO
// order per Role; calling Run with no queued response for a role is an
// error, surfacing test setup mistakes immediately rather than hanging.
// Safe for concurrent use: the parallel dispatch phase invokes Run from
// multiple task-execution goroutines at once.
type Fake struct {
	Responses map[Role][]*Response
	Errors    map[Role][]error
	Requests  []Request

	mu    sync.Mutex
	calls map[Role]int
}

// NewFake returns an empty Fake ready to have responses queued onto it.
func NewFake() *Fake {
	return &Fake{
		Responses: map[Role][]*Response{},
		Errors:    map[Role][]error{},
		calls:     map[Role]int{},
	}
}

// Enqueue appends a successful response for the given role.
func (f *Fake) Enqueue(role Role, resp *Response) {
	f.Responses[role] = append(f.Responses[role], resp)
}

// EnqueueError appends a failing call for the given role.
func (f *Fake) EnqueueError(role Role, err error) {
	f.Errors[role] = append(f.Errors[role], err)
}

func (f *Fake) Run(_ context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Requests = append(f.Requests, req)
	if f.calls == nil {
		f.calls = map[Role]int{}
	}
	idx := f.calls[req.Role]
	f.calls[req.Role] = idx + 1

	if errs := f.Errors[req.Role]; idx < len(errs) && errs[idx] != nil {
		return nil, errs[idx]
	}
	resps := f.Responses[req.Role]
	if idx >= len(resps) {
		return nil, fmt.Errorf("agentrunner: fake has no queued response for role %s call #%d", req.Role, idx+1)
	}
	return resps[idx], nil
}

var _ Runner = (*Fake)(nil)
