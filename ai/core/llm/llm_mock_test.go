package llm

import (
	"context"
	"sync"
)

// fakeClient scripts a sequence of replies for retry/composite tests.
type fakeClient struct {
	name    string
	mu      sync.Mutex
	calls   int
	replies []fakeReply
}

type fakeReply struct {
	resp *Response
	err  error
}

func newFakeClient(name string, replies ...fakeReply) *fakeClient {
	return &fakeClient{name: name, replies: replies}
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Generate(_ context.Context, _ *Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.replies) {
		i = len(f.replies) - 1 // repeat last scripted reply
	}
	r := f.replies[i]
	return r.resp, r.err
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func textReply(text string) fakeReply {
	return fakeReply{resp: &Response{Text: text}}
}

func errReply(err error) fakeReply {
	return fakeReply{err: err}
}
