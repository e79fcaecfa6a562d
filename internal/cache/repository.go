package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/bassista/go_courses/internal/docstore"
	"github.com/bassista/go_courses/internal/logger"
)

// Validation messages returned without calling the store.
const (
	MsgInvalidCourseData = "Invalid course data"
	MsgMissingCourseID   = "Missing courseId"
	MsgInvalidPayload    = "Invalid payload"
)

// Result is the outcome of a repository action. Failures are never returned as
// Go errors: the message is reported here and kept in the shared error state.
type Result struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
	// Cause is the underlying error, for callers that need to classify it.
	Cause error `json:"-"`
}

// State is a point-in-time copy of the repository state.
type State struct {
	Courses    []Course `json:"courses"`
	Loading    bool     `json:"loading"`
	Error      *string  `json:"error"`
	Subscribed bool     `json:"subscribed"`
}

// Observer receives repository activity, typically for metrics.
type Observer interface {
	ObserveOperation(op string, success bool, elapsed time.Duration)
	ObserveCached(count int)
	ObserveSubscription(active bool)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, bool, time.Duration) {}
func (nopObserver) ObserveCached(int)                            {}
func (nopObserver) ObserveSubscription(bool)                     {}

type Option func(*CourseRepository)

func WithObserver(o Observer) Option {
	return func(r *CourseRepository) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithSnapshotHook registers fn to receive a copy of the courses after every
// subscription snapshot has been applied. fn runs on the subscription goroutine.
func WithSnapshotHook(fn func([]Course)) Option {
	return func(r *CourseRepository) {
		r.onSnapshot = fn
	}
}

// Subscription is the handle of the live subscription owned by a CourseRepository.
type Subscription struct {
	stream docstore.Subscription
	done   chan struct{}
	once   sync.Once
	err    error
}

// Unsubscribe closes the underlying store subscription. Repeated calls return the
// first result.
func (s *Subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.stream.Close()
	})
	return s.err
}

// Done is closed once the subscription delivers no more snapshots.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// CourseRepository mirrors a course collection in memory.
//
// While a subscription is open, courses is always the last snapshot pushed by the
// store and local writes leave it alone. Without a subscription, successful writes
// are applied locally and failed ones restore the captured pre-image.
type CourseRepository struct {
	client     docstore.Client
	collection string
	observer   Observer
	onSnapshot func([]Course)

	// subMu serializes opening and closing the subscription
	subMu sync.Mutex

	mu         sync.RWMutex
	courses    []Course
	inflight   int
	subLoading bool
	lastErr    string
	sub        *Subscription
}

func NewCourseRepository(client docstore.Client, collection string, opts ...Option) (*CourseRepository, error) {
	if client == nil {
		return nil, errors.New("document store client is nil")
	}
	if collection == "" {
		return nil, errors.New("collection name is required")
	}

	r := &CourseRepository{
		client:     client,
		collection: collection,
		observer:   nopObserver{},
		courses:    []Course{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// InitSubscription opens the live subscription, or returns the current handle if
// one is already open. The subscription lives until StopSubscription or until ctx
// is canceled, so callers should pass a long-lived context.
func (r *CourseRepository) InitSubscription(ctx context.Context) (*Subscription, error) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	r.mu.Lock()
	if r.sub != nil {
		h := r.sub
		r.mu.Unlock()
		return h, nil
	}
	r.subLoading = true
	r.lastErr = ""
	r.mu.Unlock()

	stream, err := r.client.Subscribe(ctx, r.collection)
	if err != nil {
		r.mu.Lock()
		r.lastErr = err.Error()
		r.subLoading = false
		r.mu.Unlock()
		logger.WithComponent("courses").Errorf("subscribe to %s: %v", r.collection, err)
		return nil, err
	}

	h := &Subscription{stream: stream, done: make(chan struct{})}
	r.mu.Lock()
	r.sub = h
	r.mu.Unlock()

	r.observer.ObserveSubscription(true)
	logger.WithComponent("courses").Infof("subscribed to collection %s", r.collection)

	go r.consume(h)
	return h, nil
}

// consume is the single owner applying snapshots of one subscription. When the
// stream ends on its own the handle is dropped, so the next InitSubscription
// opens a fresh feed and the refresh scheduler resumes.
func (r *CourseRepository) consume(h *Subscription) {
	defer close(h.done)
	for snap := range h.stream.Events() {
		r.applySnapshot(h, snap)
	}

	r.mu.Lock()
	ended := r.sub == h
	if ended {
		r.sub = nil
		r.subLoading = false
	}
	r.mu.Unlock()
	if !ended {
		return
	}

	r.observer.ObserveSubscription(false)
	logger.WithComponent("courses").Infof("subscription to %s ended", r.collection)
	if err := unsubscribe(h); err != nil {
		logger.WithComponent("courses").Warnf("release ended subscription on %s: %v", r.collection, err)
	}
}

func (r *CourseRepository) applySnapshot(h *Subscription, snap docstore.Snapshot) {
	r.mu.Lock()
	if r.sub != h {
		// late event from a subscription that has been stopped
		r.mu.Unlock()
		return
	}
	r.subLoading = false

	if snap.Err != nil {
		r.lastErr = snap.Err.Error()
		r.mu.Unlock()
		logger.WithComponent("courses").Warnf("subscription error on %s: %v", r.collection, snap.Err)
		return
	}

	r.courses = fromDocuments(snap.Docs)
	count := len(r.courses)
	var hookCopy []Course
	if r.onSnapshot != nil {
		hookCopy = cloneCourses(r.courses)
	}
	r.mu.Unlock()

	logger.WithComponent("courses").Debugf("snapshot applied: %d courses", count)
	r.observer.ObserveCached(count)
	if r.onSnapshot != nil {
		r.onSnapshot(hookCopy)
	}
}

// StopSubscription closes the live subscription if there is one. Unsubscribe
// failures are logged and never surfaced.
func (r *CourseRepository) StopSubscription() {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	r.mu.Lock()
	h := r.sub
	r.sub = nil
	r.subLoading = false
	r.mu.Unlock()

	if h == nil {
		return
	}

	r.observer.ObserveSubscription(false)
	if err := unsubscribe(h); err != nil {
		logger.WithComponent("courses").Warnf("error unsubscribing from %s: %v", r.collection, err)
		return
	}
	logger.WithComponent("courses").Infof("unsubscribed from collection %s", r.collection)
}

func unsubscribe(h *Subscription) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("unsubscribe panicked: %v", rec)
		}
	}()
	return h.Unsubscribe()
}

// FetchOnce replaces the courses with a one-shot listing of the collection.
func (r *CourseRepository) FetchOnce(ctx context.Context) Result {
	start := time.Now()
	r.begin()
	defer r.end()

	docs, err := r.client.QueryAll(ctx, r.collection)
	if err != nil {
		return r.fail("fetch", start, err)
	}

	courses := fromDocuments(docs)
	r.mu.Lock()
	r.courses = courses
	r.mu.Unlock()

	r.observer.ObserveCached(len(courses))
	r.observer.ObserveOperation("fetch", true, time.Since(start))
	logger.WithComponent("courses").Debugf("fetched %d courses", len(courses))
	return Result{Success: true}
}

// AddCourse creates a course. Without a subscription the new record is put at
// the front of the local list once the store has assigned its id.
func (r *CourseRepository) AddCourse(ctx context.Context, data Fields) Result {
	payload, err := normalize(data)
	if err != nil {
		return rejected(MsgInvalidCourseData)
	}

	start := time.Now()
	r.begin()
	defer r.end()

	id, err := r.client.Create(ctx, r.collection, payload)
	if err != nil {
		return r.fail("add", start, err)
	}

	r.mu.Lock()
	if r.sub == nil {
		course := Course(payload).clone()
		course[FieldID] = id
		r.courses = append([]Course{course}, r.courses...)
	}
	count := len(r.courses)
	r.mu.Unlock()

	r.observer.ObserveCached(count)
	r.observer.ObserveOperation("add", true, time.Since(start))
	logger.WithComponent("courses").Debugf("course %s added", id)
	return Result{Success: true, ID: id}
}

// UpdateCourse applies a partial update to a course.
func (r *CourseRepository) UpdateCourse(ctx context.Context, id string, patch Fields) Result {
	if id == "" {
		return rejected(MsgMissingCourseID)
	}
	payload, err := normalize(patch)
	if err != nil {
		return rejected(MsgInvalidPayload)
	}

	start := time.Now()
	r.begin()
	defer r.end()

	op := r.capture(opUpdate, id)
	if err := r.client.Update(ctx, r.collection, id, payload); err != nil {
		r.rollback(op)
		return r.fail("update", start, err)
	}
	r.commit(op, payload)

	r.observer.ObserveOperation("update", true, time.Since(start))
	logger.WithComponent("courses").Debugf("course %s updated", id)
	return Result{Success: true}
}

// ToggleCourse sets the estado flag of a course.
func (r *CourseRepository) ToggleCourse(ctx context.Context, id string, estado bool) Result {
	return r.UpdateCourse(ctx, id, Fields{FieldEstado: estado})
}

// DeleteCourse removes a course.
func (r *CourseRepository) DeleteCourse(ctx context.Context, id string) Result {
	if id == "" {
		return rejected(MsgMissingCourseID)
	}

	start := time.Now()
	r.begin()
	defer r.end()

	op := r.capture(opDelete, id)
	if err := r.client.Delete(ctx, r.collection, id); err != nil {
		r.rollback(op)
		return r.fail("delete", start, err)
	}
	count := r.commit(op, nil)

	r.observer.ObserveCached(count)
	r.observer.ObserveOperation("delete", true, time.Since(start))
	logger.WithComponent("courses").Debugf("course %s deleted", id)
	return Result{Success: true}
}

// ClearError resets the shared error message.
func (r *CourseRepository) ClearError() {
	r.mu.Lock()
	r.lastErr = ""
	r.mu.Unlock()
}

// All returns a copy of the cached courses in snapshot order.
func (r *CourseRepository) All() []Course {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneCourses(r.courses)
}

// Active returns the courses whose estado is truthy.
func (r *CourseRepository) Active() []Course {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active := []Course{}
	for _, c := range r.courses {
		if c.Estado() {
			active = append(active, c.clone())
		}
	}
	return active
}

// ByCode returns the first course with the given codigo.
func (r *CourseRepository) ByCode(codigo string) (Course, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.courses {
		if c.Codigo() == codigo {
			return c.clone(), true
		}
	}
	return nil, false
}

func (r *CourseRepository) Loading() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadingLocked()
}

// Error returns the last failure message, or "" when there is none.
func (r *CourseRepository) Error() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

func (r *CourseRepository) HasSubscription() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sub != nil
}

func (r *CourseRepository) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := State{
		Courses:    cloneCourses(r.courses),
		Loading:    r.loadingLocked(),
		Subscribed: r.sub != nil,
	}
	if r.lastErr != "" {
		msg := r.lastErr
		st.Error = &msg
	}
	return st
}

func (r *CourseRepository) loadingLocked() bool {
	return r.inflight > 0 || r.subLoading
}

// begin marks a store call in flight and clears the previous error.
func (r *CourseRepository) begin() {
	r.mu.Lock()
	r.inflight++
	r.lastErr = ""
	r.mu.Unlock()
}

func (r *CourseRepository) end() {
	r.mu.Lock()
	if r.inflight > 0 {
		r.inflight--
	}
	r.mu.Unlock()
}

func (r *CourseRepository) fail(op string, start time.Time, err error) Result {
	msg := err.Error()
	r.mu.Lock()
	r.lastErr = msg
	r.mu.Unlock()

	r.observer.ObserveOperation(op, false, time.Since(start))
	logger.WithComponent("courses").Warnf("%s on %s failed: %v", op, r.collection, err)
	return Result{Success: false, Error: msg, Cause: err}
}

func rejected(msg string) Result {
	return Result{
		Success: false,
		Error:   msg,
		Cause:   fmt.Errorf("%s: %w", msg, errdefs.ErrInvalidArgument),
	}
}

func indexOf(courses []Course, id string) int {
	for i, c := range courses {
		if c.ID() == id {
			return i
		}
	}
	return -1
}
