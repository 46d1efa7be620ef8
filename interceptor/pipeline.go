package interceptor

import (
	"net/http"
)

// RequestHook runs before a request is sent. req is a clone owned by the
// pipeline and may be modified. A returned error aborts the request.
type RequestHook func(req *http.Request) error

// ResponseHook observes a response after it arrives. It does not alter what
// the caller receives.
type ResponseHook func(req *http.Request, resp *http.Response)

// Pipeline is an http.RoundTripper that runs hooks around another one.
type Pipeline struct {
	next   http.RoundTripper
	before []RequestHook
	after  []ResponseHook
}

var _ http.RoundTripper = (*Pipeline)(nil)

// NewPipeline wraps next; nil means http.DefaultTransport.
func NewPipeline(next http.RoundTripper) *Pipeline {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Pipeline{next: next}
}

// OnRequest appends hooks run in registration order.
func (p *Pipeline) OnRequest(hooks ...RequestHook) *Pipeline {
	p.before = append(p.before, hooks...)
	return p
}

// OnResponse appends hooks run in registration order.
func (p *Pipeline) OnResponse(hooks ...ResponseHook) *Pipeline {
	p.after = append(p.after, hooks...)
	return p
}

func (p *Pipeline) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	for _, hook := range p.before {
		if err := hook(out); err != nil {
			if req.Body != nil {
				req.Body.Close()
			}
			return nil, err
		}
	}
	resp, err := p.next.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	for _, hook := range p.after {
		hook(out, resp)
	}
	return resp, nil
}
