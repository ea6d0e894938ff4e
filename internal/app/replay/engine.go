package replay

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Option func(*Engine)

// WithRelaxedOrder lets a request consume the first matching pending call of
// its origin instead of only the call at the head of the queue.
func WithRelaxedOrder() Option {
	return func(e *Engine) {
		e.relaxed = true
	}
}

func WithOverrides(overrides ...Override) Option {
	return func(e *Engine) {
		e.initial = append(e.initial, overrides...)
	}
}

type call struct {
	index    int
	variants []*Interaction
	consumed atomic.Bool
}

func (c *call) variantAt(origin Origin) *Interaction {
	for _, v := range c.variants {
		if v.Origin() == origin {
			return v
		}
	}
	return nil
}

// queue holds the calls recorded for one origin, in declaration order.
// Calls consumed through a sibling origin stay in the slice until they reach
// the head.
type queue struct {
	mu    sync.Mutex
	calls []*call
}

func (q *queue) dropRetired() {
	for len(q.calls) > 0 && q.calls[0].consumed.Load() {
		q.calls = q.calls[1:]
	}
}

func (q *queue) takeHead(origin Origin, req *http.Request, body []byte) (*Interaction, *Interaction, []string) {
	for {
		q.dropRetired()
		if len(q.calls) == 0 {
			return nil, nil, nil
		}

		head := q.calls[0]
		v := head.variantAt(origin)
		if reasons := v.explain(origin, req, body); len(reasons) > 0 {
			return nil, v, reasons
		}
		if !head.consumed.CompareAndSwap(false, true) {
			continue
		}
		q.calls = q.calls[1:]
		return v, nil, nil
	}
}

func (q *queue) takeFirstMatch(origin Origin, req *http.Request, body []byte) (*Interaction, *Interaction, []string) {
	q.dropRetired()

	var expected *Interaction
	var reasons []string
	for idx, c := range q.calls {
		if c.consumed.Load() {
			continue
		}
		v := c.variantAt(origin)
		if r := v.explain(origin, req, body); len(r) > 0 {
			if expected == nil {
				expected, reasons = v, r
			}
			continue
		}
		if !c.consumed.CompareAndSwap(false, true) {
			continue
		}
		q.calls = append(q.calls[:idx:idx], q.calls[idx+1:]...)
		return v, nil, nil
	}
	return nil, expected, reasons
}

// Engine replays a Scope. It is an http.RoundTripper and is safe for
// concurrent use; requests to distinct origins never block each other.
type Engine struct {
	scope   *Scope
	calls   []*call
	callOf  map[string]*call
	queues  map[Origin]*queue
	relaxed bool
	initial []Override
	notify  *notify

	mu        sync.Mutex
	overrides map[int][]Override
	consumed  []*Interaction
	unmatched []*UnmatchedRequestError
	failed    []error
}

var _ http.RoundTripper = &Engine{}

func New(scope *Scope, opts ...Option) (*Engine, error) {
	if scope == nil {
		return nil, errors.New("scope is required")
	}

	e := &Engine{
		scope:     scope,
		callOf:    map[string]*call{},
		queues:    map[Origin]*queue{},
		notify:    newNotify(),
		overrides: map[int][]Override{},
	}
	for _, opt := range opts {
		opt(e)
	}

	for idx, variants := range scope.Calls() {
		c := &call{index: idx, variants: variants}
		e.calls = append(e.calls, c)
		for _, v := range variants {
			e.callOf[v.ID()] = c
			q, ok := e.queues[v.Origin()]
			if !ok {
				q = &queue{}
				e.queues[v.Origin()] = q
			}
			q.calls = append(q.calls, c)
		}
	}

	for _, o := range e.initial {
		if err := e.AddOverride(o); err != nil {
			return nil, err
		}
	}

	log.Infof("replaying scenario '%s' (%d calls)", scope.Name(), len(e.calls))
	return e, nil
}

func (e *Engine) Scope() *Scope {
	return e.scope
}

func (e *Engine) RoundTrip(req *http.Request) (*http.Response, error) {
	origin, err := originFromURL(req.URL)
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, errors.Wrap(err, "unable to determine request origin")
	}
	return e.Replay(origin, req)
}

// Replay resolves req as if it had been sent to origin.
func (e *Engine) Replay(origin Origin, req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read request body")
	}

	interaction, expected, reasons := e.take(origin, req, body)
	if interaction == nil {
		return nil, e.reject(origin, req, expected, reasons)
	}

	e.mu.Lock()
	e.consumed = append(e.consumed, interaction)
	overrides := append([]Override(nil), e.overrides[e.callOf[interaction.ID()].index]...)
	e.mu.Unlock()
	e.notify.Notify()

	log.Infof("replaying %s -> %d", interaction, interaction.Status())

	status, respBody, err := applyOverrides(overrides, interaction.Status(), interaction.Body())
	if err != nil {
		err = errors.Wrapf(err, "unable to replay %s", interaction)
		log.Error(err)
		e.mu.Lock()
		e.failed = append(e.failed, err)
		e.mu.Unlock()
		return nil, err
	}
	return interaction.respond(req, status, respBody), nil
}

func (e *Engine) take(origin Origin, req *http.Request, body []byte) (*Interaction, *Interaction, []string) {
	q, ok := e.queues[origin]
	if !ok {
		return nil, nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if e.relaxed {
		return q.takeFirstMatch(origin, req, body)
	}
	return q.takeHead(origin, req, body)
}

func (e *Engine) reject(origin Origin, req *http.Request, expected *Interaction, reasons []string) error {
	unmatched := &UnmatchedRequestError{
		Method:   req.Method,
		URL:      origin.String() + req.URL.RequestURI(),
		Expected: expected,
		Reasons:  reasons,
	}

	fields := log.Fields{
		"method": unmatched.Method,
		"url":    unmatched.URL,
	}
	if expected != nil {
		fields["expected"] = expected.String()
	}
	log.WithFields(fields).Warn(unmatched.Error())

	e.mu.Lock()
	e.unmatched = append(e.unmatched, unmatched)
	e.mu.Unlock()
	return unmatched
}

// readBody drains the request body and leaves a fresh reader in its place.
func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// AddOverride registers an override on the call the named interaction
// belongs to. A later override for the same path replaces the earlier one.
func (e *Engine) AddOverride(o Override) error {
	if err := o.validate(); err != nil {
		return err
	}
	c, ok := e.callOf[o.Interaction]
	if !ok {
		return errors.Wrapf(ErrInteractionNotInScope, "override for '%s'", o.Interaction)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	replaced := false
	overrides := append([]Override(nil), e.overrides[c.index]...)
	for i, current := range overrides {
		if current.Path == o.Path {
			overrides[i] = o
			replaced = true
		}
	}
	if !replaced {
		overrides = append(overrides, o)
	}

	// must apply to every recorded variant
	for _, v := range c.variants {
		if _, _, err := applyOverrides(overrides, v.Status(), v.Body()); err != nil {
			return errors.Wrapf(err, "override for '%s'", o.Interaction)
		}
	}

	e.overrides[c.index] = overrides
	log.Infof("adding override %s to interaction '%s'", o.Path, o.Interaction)
	return nil
}

// Consumed returns the replayed interactions in the order they were served.
func (e *Engine) Consumed() []*Interaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Interaction(nil), e.consumed...)
}

// Pending returns the first recorded variant of every call not yet replayed.
func (e *Engine) Pending() []*Interaction {
	var result []*Interaction
	for _, c := range e.calls {
		if !c.consumed.Load() {
			result = append(result, c.variants[0])
		}
	}
	return result
}

func (e *Engine) Done() bool {
	for _, c := range e.calls {
		if !c.consumed.Load() {
			return false
		}
	}
	return true
}

// WaitForAll blocks until every call has been replayed, checking every
// delay for at most duration.
func (e *Engine) WaitForAll(delay, duration time.Duration) bool {
	log.WithField("scenario", e.scope.Name()).Info("waiting for all interactions")
	return retryFor(func(timeLeft time.Duration) bool {
		if e.Done() {
			return true
		}
		log.WithFields(log.Fields{
			"scenario":       e.scope.Name(),
			"pending":        len(e.Pending()),
			"time_remaining": timeLeft,
		}).Debug("retry")
		if timeLeft > 0 {
			e.notify.Wait(timeLeft)
		}
		return e.Done()
	}, delay, duration)
}

// Verify reports every request that found no interaction, every replay
// that failed and every call that was never made.
func (e *Engine) Verify() error {
	var result *multierror.Error

	e.mu.Lock()
	for _, u := range e.unmatched {
		result = multierror.Append(result, u)
	}
	for _, err := range e.failed {
		result = multierror.Append(result, err)
	}
	e.mu.Unlock()

	for _, c := range e.calls {
		if !c.consumed.Load() {
			result = multierror.Append(result, &UnconsumedInteractionError{
				Variants: append([]*Interaction(nil), c.variants...),
			})
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		log.Infof("scenario '%s' failed verification", e.scope.Name())
		return err
	}
	return nil
}
