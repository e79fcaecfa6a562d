package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bassista/go_courses/internal/docstore"
)

const testCollection = "courses"

// MockClient is a mock implementation of docstore.Client
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Subscribe(ctx context.Context, collection string) (docstore.Subscription, error) {
	args := m.Called(ctx, collection)
	sub, _ := args.Get(0).(docstore.Subscription)
	return sub, args.Error(1)
}

func (m *MockClient) QueryAll(ctx context.Context, collection string) ([]docstore.Document, error) {
	args := m.Called(ctx, collection)
	docs, _ := args.Get(0).([]docstore.Document)
	return docs, args.Error(1)
}

func (m *MockClient) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	args := m.Called(ctx, collection, fields)
	return args.String(0), args.Error(1)
}

func (m *MockClient) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	args := m.Called(ctx, collection, id, fields)
	return args.Error(0)
}

func (m *MockClient) Delete(ctx context.Context, collection, id string) error {
	args := m.Called(ctx, collection, id)
	return args.Error(0)
}

func (m *MockClient) Close() error {
	return m.Called().Error(0)
}

// fakeSubscription lets tests push snapshots by hand.
type fakeSubscription struct {
	events   chan docstore.Snapshot
	closeErr error
	panics   bool
	holdOpen bool

	mu     sync.Mutex
	closed bool
	closes int
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{events: make(chan docstore.Snapshot, 8)}
}

func (s *fakeSubscription) Events() <-chan docstore.Snapshot { return s.events }

func (s *fakeSubscription) Close() error {
	if s.panics {
		panic("listener already detached")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if !s.closed && !s.holdOpen {
		close(s.events)
	}
	s.closed = true
	return s.closeErr
}

func (s *fakeSubscription) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type recordingObserver struct {
	mu         sync.Mutex
	ops        map[string][]bool
	cached     []int
	subscribed []bool
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{ops: map[string][]bool{}}
}

func (o *recordingObserver) ObserveOperation(op string, success bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops[op] = append(o.ops[op], success)
}

func (o *recordingObserver) ObserveCached(count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cached = append(o.cached, count)
}

func (o *recordingObserver) ObserveSubscription(active bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribed = append(o.subscribed, active)
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("c%d", n)
	}
}

func newMemoryRepo(t *testing.T, opts ...Option) (*CourseRepository, *docstore.MemoryStore) {
	t.Helper()
	store := docstore.NewMemoryStore(docstore.WithIDGenerator(sequentialIDs()))
	repo, err := NewCourseRepository(store, testCollection, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		repo.StopSubscription()
		_ = store.Close()
	})
	return repo, store
}

func newMockRepo(t *testing.T, opts ...Option) (*CourseRepository, *MockClient) {
	t.Helper()
	client := &MockClient{}
	repo, err := NewCourseRepository(client, testCollection, opts...)
	require.NoError(t, err)
	return repo, client
}

func seedRepo(repo *CourseRepository, courses ...Course) {
	repo.mu.Lock()
	repo.courses = courses
	repo.mu.Unlock()
}

func waitForCount(t *testing.T, repo *CourseRepository, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(repo.All()) == want
	}, 2*time.Second, 5*time.Millisecond)
}

func ids(courses []Course) []string {
	out := make([]string, 0, len(courses))
	for _, c := range courses {
		out = append(out, c.ID())
	}
	return out
}

func TestNewCourseRepository_Validation(t *testing.T) {
	_, err := NewCourseRepository(nil, testCollection)
	assert.Error(t, err)

	_, err = NewCourseRepository(&MockClient{}, "")
	assert.Error(t, err)

	repo, err := NewCourseRepository(&MockClient{}, testCollection)
	require.NoError(t, err)
	assert.Empty(t, repo.All())
	assert.False(t, repo.Loading())
	assert.Equal(t, "", repo.Error())
	assert.False(t, repo.HasSubscription())
}

func TestInitSubscription_AppliesSnapshotsInOrder(t *testing.T) {
	repo, store := newMemoryRepo(t)
	store.Seed(testCollection,
		docstore.Document{ID: "a", Fields: map[string]any{"codigo": "X", "estado": true}},
		docstore.Document{ID: "b", Fields: map[string]any{"codigo": "Y", "estado": false}},
	)

	h, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)

	waitForCount(t, repo, 2)
	assert.Equal(t, []Course{
		{"id": "a", "codigo": "X", "estado": true},
		{"id": "b", "codigo": "Y", "estado": false},
	}, repo.All())
	assert.False(t, repo.Loading())
	assert.True(t, repo.HasSubscription())
}

func TestInitSubscription_IsIdempotent(t *testing.T) {
	repo, client := newMockRepo(t)
	sub := newFakeSubscription()
	client.On("Subscribe", mock.Anything, testCollection).Return(sub, nil).Once()

	h1, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	h2, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	client.AssertNumberOfCalls(t, "Subscribe", 1)
	repo.StopSubscription()
}

func TestInitSubscription_LoadingUntilFirstSnapshot(t *testing.T) {
	repo, client := newMockRepo(t)
	sub := newFakeSubscription()
	client.On("Subscribe", mock.Anything, testCollection).Return(sub, nil)

	_, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	assert.True(t, repo.Loading())

	sub.events <- docstore.Snapshot{Docs: []docstore.Document{{ID: "a", Fields: map[string]any{"codigo": "X"}}}}
	require.Eventually(t, func() bool { return !repo.Loading() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a"}, ids(repo.All()))
	repo.StopSubscription()
}

func TestInitSubscription_ClearsPreviousError(t *testing.T) {
	repo, client := newMockRepo(t)
	repo.mu.Lock()
	repo.lastErr = "old failure"
	repo.mu.Unlock()

	client.On("Subscribe", mock.Anything, testCollection).Return(newFakeSubscription(), nil)
	_, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", repo.Error())
	repo.StopSubscription()
}

func TestInitSubscription_SubscribeFailure(t *testing.T) {
	repo, client := newMockRepo(t)
	client.On("Subscribe", mock.Anything, testCollection).Return(nil, errors.New("permission-denied"))

	h, err := repo.InitSubscription(context.Background())
	assert.Error(t, err)
	assert.Nil(t, h)
	assert.Equal(t, "permission-denied", repo.Error())
	assert.False(t, repo.Loading())
	assert.False(t, repo.HasSubscription())
}

func TestSubscription_StoreIDWinsOverPayloadID(t *testing.T) {
	repo, client := newMockRepo(t)
	sub := newFakeSubscription()
	client.On("Subscribe", mock.Anything, testCollection).Return(sub, nil)

	_, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	sub.events <- docstore.Snapshot{Docs: []docstore.Document{{ID: "real", Fields: map[string]any{"id": "fake", "codigo": "X"}}}}

	waitForCount(t, repo, 1)
	assert.Equal(t, "real", repo.All()[0].ID())
	repo.StopSubscription()
}

func TestSubscription_ErrorKeepsCoursesAndHandle(t *testing.T) {
	repo, store := newMemoryRepo(t)
	store.Seed(testCollection, docstore.Document{ID: "a", Fields: map[string]any{"codigo": "X"}})

	_, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	waitForCount(t, repo, 1)

	store.BreakFeeds(testCollection, errors.New("unavailable"))
	require.Eventually(t, func() bool { return repo.Error() == "unavailable" }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"a"}, ids(repo.All()))
	assert.False(t, repo.Loading())
	assert.True(t, repo.HasSubscription())
}

func TestSubscription_ErrorBeforeFirstSnapshotEndsLoading(t *testing.T) {
	repo, client := newMockRepo(t)
	sub := newFakeSubscription()
	client.On("Subscribe", mock.Anything, testCollection).Return(sub, nil)

	_, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	sub.events <- docstore.Snapshot{Err: errors.New("unavailable")}

	require.Eventually(t, func() bool { return !repo.Loading() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "unavailable", repo.Error())
	assert.Empty(t, repo.All())
	repo.StopSubscription()
}

func TestSubscription_SnapshotReplacesLocalWrites(t *testing.T) {
	repo, store := newMemoryRepo(t)

	_, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !repo.Loading() }, 2*time.Second, 5*time.Millisecond)

	res := repo.AddCourse(context.Background(), Fields{"codigo": "CS101", "estado": true})
	require.True(t, res.Success)
	assert.Equal(t, "c1", res.ID)

	waitForCount(t, repo, 1)
	assert.Equal(t, Course{"id": "c1", "codigo": "CS101", "estado": true}, repo.All()[0])
	assert.Equal(t, 1, store.SubscriberCount(testCollection))
}

func TestStopSubscription_IgnoresLateSnapshots(t *testing.T) {
	repo, client := newMockRepo(t)
	sub := newFakeSubscription()
	sub.holdOpen = true
	client.On("Subscribe", mock.Anything, testCollection).Return(sub, nil)

	_, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	sub.events <- docstore.Snapshot{Docs: []docstore.Document{{ID: "a"}}}
	waitForCount(t, repo, 1)

	repo.StopSubscription()
	assert.False(t, repo.HasSubscription())
	assert.Equal(t, 1, sub.closeCount())

	sub.events <- docstore.Snapshot{Docs: []docstore.Document{{ID: "a"}, {ID: "b"}}}
	assert.Never(t, func() bool { return len(repo.All()) != 1 }, 100*time.Millisecond, 5*time.Millisecond)
}

func TestStopSubscription_NoSubscriptionIsNoop(t *testing.T) {
	repo, client := newMockRepo(t)
	repo.StopSubscription()
	repo.StopSubscription()
	client.AssertNotCalled(t, "Subscribe", mock.Anything, mock.Anything)
}

func TestStopSubscription_SwallowsUnsubscribeFailures(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		repo, client := newMockRepo(t)
		sub := newFakeSubscription()
		sub.closeErr = errors.New("already detached")
		client.On("Subscribe", mock.Anything, testCollection).Return(sub, nil)

		_, err := repo.InitSubscription(context.Background())
		require.NoError(t, err)
		assert.NotPanics(t, repo.StopSubscription)
		assert.False(t, repo.HasSubscription())
		assert.Equal(t, "", repo.Error())
	})

	t.Run("panic", func(t *testing.T) {
		repo, client := newMockRepo(t)
		sub := newFakeSubscription()
		sub.panics = true
		client.On("Subscribe", mock.Anything, testCollection).Return(sub, nil)

		_, err := repo.InitSubscription(context.Background())
		require.NoError(t, err)
		assert.NotPanics(t, repo.StopSubscription)
		assert.False(t, repo.HasSubscription())
	})
}

func TestStopSubscription_ClearsPendingLoading(t *testing.T) {
	repo, client := newMockRepo(t)
	client.On("Subscribe", mock.Anything, testCollection).Return(newFakeSubscription(), nil)

	_, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	assert.True(t, repo.Loading())

	repo.StopSubscription()
	assert.False(t, repo.Loading())
}

func TestStopSubscription_AllowsResubscribe(t *testing.T) {
	repo, store := newMemoryRepo(t)
	store.Seed(testCollection, docstore.Document{ID: "a", Fields: map[string]any{}})

	h1, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	waitForCount(t, repo, 1)
	repo.StopSubscription()

	select {
	case <-h1.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription goroutine did not stop")
	}
	assert.Equal(t, 0, store.SubscriberCount(testCollection))

	h2, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, h1, h2)
	assert.Equal(t, 1, store.SubscriberCount(testCollection))
}

func TestSubscription_CanceledContextEndsSubscription(t *testing.T) {
	obs := newRecordingObserver()
	repo, store := newMemoryRepo(t, WithObserver(obs))
	store.Seed(testCollection, docstore.Document{ID: "a", Fields: map[string]any{}})

	ctx, cancel := context.WithCancel(context.Background())
	h1, err := repo.InitSubscription(ctx)
	require.NoError(t, err)
	waitForCount(t, repo, 1)

	cancel()
	select {
	case <-h1.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription goroutine did not stop")
	}
	assert.False(t, repo.HasSubscription())
	assert.False(t, repo.Loading())
	assert.Equal(t, 0, store.SubscriberCount(testCollection))

	// writes are applied locally again
	require.True(t, repo.AddCourse(context.Background(), Fields{"codigo": "B"}).Success)
	assert.Equal(t, []string{"c1", "a"}, ids(repo.All()))

	h2, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, h1, h2)
	assert.Equal(t, 1, store.SubscriberCount(testCollection))
	waitForCount(t, repo, 2)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []bool{true, false, true}, obs.subscribed)
}

func TestSubscription_StreamEndedByStoreKeepsLastError(t *testing.T) {
	repo, client := newMockRepo(t)
	sub := newFakeSubscription()
	client.On("Subscribe", mock.Anything, testCollection).Return(sub, nil)

	h, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	sub.events <- docstore.Snapshot{Docs: []docstore.Document{{ID: "a", Fields: map[string]any{}}}}
	sub.events <- docstore.Snapshot{Err: errors.New("listen documents_changed: conn closed")}
	close(sub.events)

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription goroutine did not stop")
	}
	assert.False(t, repo.HasSubscription())
	assert.Equal(t, "listen documents_changed: conn closed", repo.Error())
	assert.Equal(t, []string{"a"}, ids(repo.All()))
	assert.Equal(t, 1, sub.closeCount(), "ended stream is released")

	// a later stop has nothing left to release
	repo.StopSubscription()
	assert.Equal(t, 1, sub.closeCount())
}

func TestFetchOnce_ReplacesCourses(t *testing.T) {
	repo, store := newMemoryRepo(t)
	seedRepo(repo, Course{"id": "stale"})
	store.Seed(testCollection,
		docstore.Document{ID: "a", Fields: map[string]any{"codigo": "X"}},
		docstore.Document{ID: "b", Fields: map[string]any{"codigo": "Y"}},
	)

	res := repo.FetchOnce(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, []string{"a", "b"}, ids(repo.All()))
	assert.False(t, repo.Loading())
	assert.Equal(t, "", repo.Error())
}

func TestFetchOnce_Failure(t *testing.T) {
	repo, store := newMemoryRepo(t)
	seedRepo(repo, Course{"id": "kept"})
	store.SetFailure(docstore.OpQuery, errors.New("unavailable"))

	res := repo.FetchOnce(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, "unavailable", res.Error)
	assert.Equal(t, "unavailable", repo.Error())
	assert.Equal(t, []string{"kept"}, ids(repo.All()))
	assert.False(t, repo.Loading())
}

func TestFetchOnce_ClearsErrorOnStart(t *testing.T) {
	repo, store := newMemoryRepo(t)
	store.SetFailure(docstore.OpQuery, errors.New("unavailable"))
	require.False(t, repo.FetchOnce(context.Background()).Success)

	store.SetFailure(docstore.OpQuery, nil)
	require.True(t, repo.FetchOnce(context.Background()).Success)
	assert.Equal(t, "", repo.Error())
}

func TestFetchOnce_LoadingWhileInFlight(t *testing.T) {
	repo, client := newMockRepo(t)
	release := make(chan struct{})
	started := make(chan struct{})
	client.On("QueryAll", mock.Anything, testCollection).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return([]docstore.Document{{ID: "a"}}, nil)

	done := make(chan Result)
	go func() { done <- repo.FetchOnce(context.Background()) }()

	<-started
	assert.True(t, repo.Loading())
	close(release)

	res := <-done
	assert.True(t, res.Success)
	assert.False(t, repo.Loading())
}

func TestLoading_CountsOverlappingCalls(t *testing.T) {
	repo, client := newMockRepo(t)
	releaseSlow := make(chan struct{})
	slowStarted := make(chan struct{})
	client.On("Update", mock.Anything, testCollection, "slow", mock.Anything).
		Run(func(mock.Arguments) {
			close(slowStarted)
			<-releaseSlow
		}).
		Return(nil)
	client.On("Update", mock.Anything, testCollection, "fast", mock.Anything).Return(nil)

	done := make(chan Result)
	go func() { done <- repo.UpdateCourse(context.Background(), "slow", Fields{"a": 1}) }()
	<-slowStarted

	require.True(t, repo.UpdateCourse(context.Background(), "fast", Fields{"a": 1}).Success)
	assert.True(t, repo.Loading(), "slow call is still in flight")

	close(releaseSlow)
	<-done
	assert.False(t, repo.Loading())
}

func TestAddCourse_PrependsWithoutSubscription(t *testing.T) {
	repo, _ := newMemoryRepo(t)
	seedRepo(repo, Course{"id": "old", "codigo": "CS100"})

	res := repo.AddCourse(context.Background(), Fields{"codigo": "CS101", "estado": true})
	require.True(t, res.Success)
	assert.Equal(t, "c1", res.ID)

	all := repo.All()
	require.Len(t, all, 2)
	assert.Equal(t, Course{"id": "c1", "codigo": "CS101", "estado": true}, all[0])
	assert.Equal(t, "old", all[1].ID())
	assert.Equal(t, "", repo.Error())
	assert.False(t, repo.Loading())
}

func TestAddCourse_InvalidData(t *testing.T) {
	repo, client := newMockRepo(t)

	for name, data := range map[string]Fields{
		"nil":           nil,
		"not encodable": {"handler": func() {}},
	} {
		t.Run(name, func(t *testing.T) {
			res := repo.AddCourse(context.Background(), data)
			assert.False(t, res.Success)
			assert.Equal(t, MsgInvalidCourseData, res.Error)
			assert.True(t, errdefs.IsInvalidArgument(res.Cause))
		})
	}

	client.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, "", repo.Error())
	assert.False(t, repo.Loading())
}

func TestAddCourse_EmptyObjectIsAccepted(t *testing.T) {
	repo, _ := newMemoryRepo(t)
	res := repo.AddCourse(context.Background(), Fields{})
	require.True(t, res.Success)
	assert.Equal(t, []Course{{"id": "c1"}}, repo.All())
}

func TestAddCourse_Failure(t *testing.T) {
	repo, store := newMemoryRepo(t)
	store.SetFailure(docstore.OpCreate, errors.New("permission-denied"))

	res := repo.AddCourse(context.Background(), Fields{"codigo": "CS101"})
	assert.False(t, res.Success)
	assert.Equal(t, "permission-denied", res.Error)
	assert.Equal(t, "permission-denied", repo.Error())
	assert.Empty(t, repo.All())
}

func TestAddCourse_DoesNotAliasCallerData(t *testing.T) {
	repo, _ := newMemoryRepo(t)
	data := Fields{"codigo": "CS101", "tags": []any{"x"}}
	require.True(t, repo.AddCourse(context.Background(), data).Success)

	data["codigo"] = "changed"
	data["tags"].([]any)[0] = "y"
	assert.Equal(t, "CS101", repo.All()[0].Codigo())
	assert.Equal(t, []any{"x"}, repo.All()[0]["tags"])
}

func TestAddCourse_KeepsNumbersLossless(t *testing.T) {
	repo, store := newMemoryRepo(t)
	data := Fields{"legajo": int64(9007199254740993), "creditos": 3}
	res := repo.AddCourse(context.Background(), data)
	require.True(t, res.Success)

	assert.Equal(t, Course{"id": "c1", "legajo": int64(9007199254740993), "creditos": 3}, repo.All()[0])

	docs, err := store.QueryAll(context.Background(), testCollection)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, map[string]any{"legajo": int64(9007199254740993), "creditos": 3}, docs[0].Fields)
}

func TestUpdateCourse_Validation(t *testing.T) {
	repo, client := newMockRepo(t)

	res := repo.UpdateCourse(context.Background(), "", Fields{"a": 1})
	assert.False(t, res.Success)
	assert.Equal(t, MsgMissingCourseID, res.Error)

	res = repo.UpdateCourse(context.Background(), "a", nil)
	assert.False(t, res.Success)
	assert.Equal(t, MsgInvalidPayload, res.Error)
	assert.True(t, errdefs.IsInvalidArgument(res.Cause))

	client.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, "", repo.Error())
}

func TestUpdateCourse_MergesWithoutSubscription(t *testing.T) {
	repo, store := newMemoryRepo(t)
	store.Seed(testCollection, docstore.Document{ID: "a", Fields: map[string]any{"codigo": "X", "estado": true}})
	require.True(t, repo.FetchOnce(context.Background()).Success)

	res := repo.UpdateCourse(context.Background(), "a", Fields{"estado": false})
	require.True(t, res.Success)
	assert.Equal(t, []Course{{"id": "a", "codigo": "X", "estado": false}}, repo.All())
}

func TestUpdateCourse_KeepsIDWhenPatchCarriesOne(t *testing.T) {
	repo, client := newMockRepo(t)
	seedRepo(repo, Course{"id": "a", "codigo": "X"})
	client.On("Update", mock.Anything, testCollection, "a", map[string]any{"id": "other", "codigo": "Z"}).Return(nil)

	require.True(t, repo.UpdateCourse(context.Background(), "a", Fields{"id": "other", "codigo": "Z"}).Success)
	assert.Equal(t, []Course{{"id": "a", "codigo": "Z"}}, repo.All())
	client.AssertExpectations(t)
}

func TestUpdateCourse_UnknownIDLeavesListAlone(t *testing.T) {
	repo, client := newMockRepo(t)
	seedRepo(repo, Course{"id": "a"})
	client.On("Update", mock.Anything, testCollection, "ghost", mock.Anything).Return(nil)

	require.True(t, repo.UpdateCourse(context.Background(), "ghost", Fields{"x": 1}).Success)
	assert.Equal(t, []Course{{"id": "a"}}, repo.All())
}

func TestUpdateCourse_FailureRestoresPreImage(t *testing.T) {
	repo, store := newMemoryRepo(t)
	seedRepo(repo, Course{"id": "a", "codigo": "X", "estado": true})
	store.SetFailure(docstore.OpUpdate, errors.New("not-found"))

	res := repo.UpdateCourse(context.Background(), "a", Fields{"estado": false})
	assert.False(t, res.Success)
	assert.Equal(t, "not-found", res.Error)
	assert.Equal(t, "not-found", repo.Error())
	assert.Equal(t, []Course{{"id": "a", "codigo": "X", "estado": true}}, repo.All())
	assert.False(t, repo.Loading())
}

func TestUpdateCourse_MissingDocumentIsNotFound(t *testing.T) {
	repo, _ := newMemoryRepo(t)
	res := repo.UpdateCourse(context.Background(), "ghost", Fields{"x": 1})
	assert.False(t, res.Success)
	assert.True(t, errdefs.IsNotFound(res.Cause))
}

func TestUpdateCourse_WithSubscriptionLeavesMirrorToSnapshots(t *testing.T) {
	repo, client := newMockRepo(t)
	sub := newFakeSubscription()
	client.On("Subscribe", mock.Anything, testCollection).Return(sub, nil)
	client.On("Update", mock.Anything, testCollection, "a", mock.Anything).Return(nil)

	_, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	sub.events <- docstore.Snapshot{Docs: []docstore.Document{{ID: "a", Fields: map[string]any{"estado": true}}}}
	waitForCount(t, repo, 1)

	require.True(t, repo.ToggleCourse(context.Background(), "a", false).Success)
	assert.Equal(t, true, repo.All()[0]["estado"])
	repo.StopSubscription()
}

func TestToggleCourse_SendsEstadoOnly(t *testing.T) {
	repo, client := newMockRepo(t)
	seedRepo(repo, Course{"id": "a", "codigo": "X", "estado": false})
	client.On("Update", mock.Anything, testCollection, "a", map[string]any{"estado": true}).Return(nil)

	require.True(t, repo.ToggleCourse(context.Background(), "a", true).Success)
	assert.Equal(t, []Course{{"id": "a", "codigo": "X", "estado": true}}, repo.All())
	client.AssertExpectations(t)

	res := repo.ToggleCourse(context.Background(), "", true)
	assert.False(t, res.Success)
	assert.Equal(t, MsgMissingCourseID, res.Error)
}

func TestDeleteCourse_RemovesWithoutSubscription(t *testing.T) {
	repo, store := newMemoryRepo(t)
	store.Seed(testCollection,
		docstore.Document{ID: "a", Fields: map[string]any{}},
		docstore.Document{ID: "b", Fields: map[string]any{}},
	)
	require.True(t, repo.FetchOnce(context.Background()).Success)

	require.True(t, repo.DeleteCourse(context.Background(), "a").Success)
	assert.Equal(t, []string{"b"}, ids(repo.All()))
}

func TestDeleteCourse_MissingDocumentSucceeds(t *testing.T) {
	repo, _ := newMemoryRepo(t)
	seedRepo(repo, Course{"id": "a"})
	require.True(t, repo.DeleteCourse(context.Background(), "ghost").Success)
	assert.Equal(t, []string{"a"}, ids(repo.All()))
}

func TestDeleteCourse_FailureRestoresList(t *testing.T) {
	repo, store := newMemoryRepo(t)
	seedRepo(repo, Course{"id": "a"}, Course{"id": "b"})
	store.SetFailure(docstore.OpDelete, errors.New("permission-denied"))

	res := repo.DeleteCourse(context.Background(), "a")
	assert.False(t, res.Success)
	assert.Equal(t, "permission-denied", repo.Error())
	assert.Equal(t, []string{"a", "b"}, ids(repo.All()))
}

func TestDeleteCourse_MissingID(t *testing.T) {
	repo, client := newMockRepo(t)
	res := repo.DeleteCourse(context.Background(), "")
	assert.False(t, res.Success)
	assert.Equal(t, MsgMissingCourseID, res.Error)
	client.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteCourse_WithSubscriptionLeavesMirrorToSnapshots(t *testing.T) {
	repo, store := newMemoryRepo(t)
	store.Seed(testCollection,
		docstore.Document{ID: "a", Fields: map[string]any{}},
		docstore.Document{ID: "b", Fields: map[string]any{}},
	)
	_, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	waitForCount(t, repo, 2)

	require.True(t, repo.DeleteCourse(context.Background(), "a").Success)
	waitForCount(t, repo, 1)
	assert.Equal(t, []string{"b"}, ids(repo.All()))
}

func TestClearError(t *testing.T) {
	repo, store := newMemoryRepo(t)
	store.SetFailure(docstore.OpQuery, errors.New("unavailable"))
	repo.FetchOnce(context.Background())
	require.Equal(t, "unavailable", repo.Error())

	repo.ClearError()
	assert.Equal(t, "", repo.Error())
	assert.Nil(t, repo.State().Error)
}

func TestValidationFailureKeepsSharedError(t *testing.T) {
	repo, store := newMemoryRepo(t)
	store.SetFailure(docstore.OpQuery, errors.New("unavailable"))
	repo.FetchOnce(context.Background())

	res := repo.AddCourse(context.Background(), nil)
	assert.Equal(t, MsgInvalidCourseData, res.Error)
	assert.Equal(t, "unavailable", repo.Error())
}

func TestActiveAndByCode(t *testing.T) {
	repo, _ := newMemoryRepo(t)
	seedRepo(repo,
		Course{"id": "a", "codigo": "X", "estado": true},
		Course{"id": "b", "codigo": "Y", "estado": false},
		Course{"id": "c", "codigo": "X", "estado": "yes"},
		Course{"id": "d", "codigo": "Z"},
	)

	assert.Equal(t, []string{"a", "c"}, ids(repo.Active()))

	c, ok := repo.ByCode("X")
	require.True(t, ok)
	assert.Equal(t, "a", c.ID())

	_, ok = repo.ByCode("missing")
	assert.False(t, ok)
}

func TestAll_ReturnsCopies(t *testing.T) {
	repo, _ := newMemoryRepo(t)
	seedRepo(repo, Course{"id": "a", "codigo": "X"})

	all := repo.All()
	all[0]["codigo"] = "changed"
	assert.Equal(t, "X", repo.All()[0].Codigo())
}

func TestState(t *testing.T) {
	repo, store := newMemoryRepo(t)
	seedRepo(repo, Course{"id": "a"})

	st := repo.State()
	assert.Equal(t, []Course{{"id": "a"}}, st.Courses)
	assert.False(t, st.Loading)
	assert.Nil(t, st.Error)
	assert.False(t, st.Subscribed)

	store.SetFailure(docstore.OpCreate, errors.New("permission-denied"))
	repo.AddCourse(context.Background(), Fields{})
	st = repo.State()
	require.NotNil(t, st.Error)
	assert.Equal(t, "permission-denied", *st.Error)
}

func TestSnapshotHookReceivesCopies(t *testing.T) {
	var mu sync.Mutex
	var got [][]Course
	repo, store := newMemoryRepo(t, WithSnapshotHook(func(courses []Course) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, courses)
	}))
	store.Seed(testCollection, docstore.Document{ID: "a", Fields: map[string]any{"codigo": "X"}})

	_, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	got[0][0]["codigo"] = "changed"
	mu.Unlock()
	assert.Equal(t, "X", repo.All()[0].Codigo())
}

func TestObserverIsNotified(t *testing.T) {
	obs := newRecordingObserver()
	repo, store := newMemoryRepo(t, WithObserver(obs))

	require.True(t, repo.AddCourse(context.Background(), Fields{"codigo": "X"}).Success)
	store.SetFailure(docstore.OpQuery, errors.New("unavailable"))
	require.False(t, repo.FetchOnce(context.Background()).Success)
	store.SetFailure(docstore.OpQuery, nil)

	_, err := repo.InitSubscription(context.Background())
	require.NoError(t, err)
	repo.StopSubscription()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []bool{true}, obs.ops["add"])
	assert.Equal(t, []bool{false}, obs.ops["fetch"])
	assert.Equal(t, []bool{true, false}, obs.subscribed)
	assert.Contains(t, obs.cached, 1)
}
