package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/ledger"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/service"
)

type jobMap struct {
	mu   sync.Mutex
	jobs map[string]model.Job
}

func (s *jobMap) Save(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *jobMap) Get(ctx context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, service.ErrJobNotFound
	}
	return &job, nil
}

func (s *jobMap) Update(ctx context.Context, jobID string, fn func(job *model.Job) error) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, service.ErrJobNotFound
	}
	if err := fn(&job); err != nil {
		return nil, err
	}
	s.jobs[jobID] = job
	return &job, nil
}

type captureQueue struct {
	tasks []*asynq.Task
}

func (q *captureQueue) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type fakeGenerator struct {
	submitErr error
	statuses  []client.GeneratorStatus
	polls     int
	onPoll    func(n int)
	requests  []*client.GeneratorRequest
}

func (g *fakeGenerator) Submit(ctx context.Context, req *client.GeneratorRequest) (string, error) {
	g.requests = append(g.requests, req)
	if g.submitErr != nil {
		return "", g.submitErr
	}
	return "remote-1", nil
}

func (g *fakeGenerator) Status(ctx context.Context, jobID string) (*client.GeneratorStatus, error) {
	i := g.polls
	g.polls++
	if g.onPoll != nil {
		g.onPoll(g.polls)
	}
	if i >= len(g.statuses) {
		i = len(g.statuses) - 1
	}
	s := g.statuses[i]
	return &s, nil
}

func (g *fakeGenerator) ResultURL(ref string) string { return "http://gen.local/" + ref }
func (g *fakeGenerator) IsConfigured() bool          { return true }

type fakeStorage struct {
	keys []string
	err  error
}

func (s *fakeStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	return s.GetPublicURL(key), nil
}

func (s *fakeStorage) Mirror(ctx context.Context, key, sourceURL string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.keys = append(s.keys, key)
	return s.GetPublicURL(key), nil
}

func (s *fakeStorage) GetPublicURL(key string) string { return "https://cdn.test/" + key }

type recordingNotifier struct {
	progress []int
	complete []*model.GenerateResultResponse
	errors   []bool
}

func (n *recordingNotifier) BroadcastProgress(jobID string, progress int, status model.JobStatus, step string) {
	n.progress = append(n.progress, progress)
}

func (n *recordingNotifier) BroadcastComplete(jobID string, result *model.GenerateResultResponse) {
	n.complete = append(n.complete, result)
}

func (n *recordingNotifier) BroadcastError(jobID, code, message string, refunded bool) {
	n.errors = append(n.errors, refunded)
}

type recordingIndexer struct {
	types []string
}

func (i *recordingIndexer) Index(ctx context.Context, content, contentType string, metadata map[string]string) bool {
	i.types = append(i.types, contentType)
	return true
}

type fixture struct {
	svc      *service.GenerationService
	ledger   *ledger.Ledger
	queue    *captureQueue
	notifier *recordingNotifier
	indexer  *recordingIndexer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l, err := ledger.New(ledger.NewMemoryStore(), ledger.FailClosed)
	require.NoError(t, err)
	_, err = l.CreateWallet(context.Background(), "u1", 10)
	require.NoError(t, err)

	queue := &captureQueue{}
	return &fixture{
		svc:      service.NewGenerationService(&jobMap{jobs: make(map[string]model.Job)}, queue, l, 5),
		ledger:   l,
		queue:    queue,
		notifier: &recordingNotifier{},
		indexer:  &recordingIndexer{},
	}
}

func (f *fixture) start(t *testing.T, lyrics string) (string, *asynq.Task) {
	t.Helper()
	resp, err := f.svc.StartGeneration(context.Background(), "u1", &model.GenerateRequest{
		Prompt: "dreamy synthwave", Duration: 30, Steps: 60, CFGScale: 7, Lyrics: lyrics,
	})
	require.NoError(t, err)
	return resp.JobID, f.queue.tasks[len(f.queue.tasks)-1]
}

func (f *fixture) worker(gen client.MusicGenerator, storage client.StorageClient) *GenerationWorker {
	return NewGenerationWorker(f.svc, gen, storage, f.notifier, f.indexer, Options{PollInterval: time.Millisecond, MaxWait: time.Second})
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	w, err := f.ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	return w.Balance
}

func TestWorkerGeneratesAndMirrors(t *testing.T) {
	f := newFixture(t)
	jobID, task := f.start(t, "[Verse]\nneon nights")

	gen := &fakeGenerator{statuses: []client.GeneratorStatus{
		{Status: client.GeneratorProcessing, Progress: 0.5, Message: "Diffusing"},
		{Status: client.GeneratorCompleted, Progress: 1, Result: []string{"outputs/song.mp3"}},
	}}
	storage := &fakeStorage{}

	require.NoError(t, f.worker(gen, storage).ProcessTask(context.Background(), task))

	result, err := f.svc.GetResult(context.Background(), "u1", jobID)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.test/generations/u1/" + jobID + "/0.mp3"}, result.Files)

	require.Len(t, gen.requests, 1)
	assert.Equal(t, 60, gen.requests[0].InferSteps)
	assert.Equal(t, "[Verse]\nneon nights", gen.requests[0].Lyrics)

	assert.Contains(t, f.notifier.progress, 50)
	assert.Len(t, f.notifier.complete, 1)
	assert.Equal(t, []string{"audio_prompt", "lyrics"}, f.indexer.types)
	assert.Equal(t, int64(5), f.balance(t))
}

func TestWorkerWithoutStorageUsesGeneratorURLs(t *testing.T) {
	f := newFixture(t)
	jobID, task := f.start(t, "")

	gen := &fakeGenerator{statuses: []client.GeneratorStatus{
		{Status: client.GeneratorCompleted, Progress: 1, Result: []string{"a.wav", "b.wav"}},
	}}
	require.NoError(t, f.worker(gen, nil).ProcessTask(context.Background(), task))

	result, err := f.svc.GetResult(context.Background(), "u1", jobID)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://gen.local/a.wav", "http://gen.local/b.wav"}, result.Files)
	assert.Equal(t, []string{"audio_prompt"}, f.indexer.types)
}

func TestWorkerRefundsOnGeneratorFailure(t *testing.T) {
	tests := []struct {
		name    string
		gen     *fakeGenerator
		storage *fakeStorage
	}{
		{"submit error", &fakeGenerator{submitErr: errors.New("503")}, nil},
		{"generator failed", &fakeGenerator{statuses: []client.GeneratorStatus{
			{Status: client.GeneratorFailed, Message: "CUDA out of memory"},
		}}, nil},
		{"empty result", &fakeGenerator{statuses: []client.GeneratorStatus{
			{Status: client.GeneratorCompleted, Progress: 1},
		}}, nil},
		{"upload error", &fakeGenerator{statuses: []client.GeneratorStatus{
			{Status: client.GeneratorCompleted, Progress: 1, Result: []string{"a.wav"}},
		}}, &fakeStorage{err: errors.New("r2 down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			jobID, task := f.start(t, "")

			var storage client.StorageClient
			if tt.storage != nil {
				storage = tt.storage
			}
			err := f.worker(tt.gen, storage).ProcessTask(context.Background(), task)
			require.Error(t, err)
			assert.ErrorIs(t, err, asynq.SkipRetry)

			status, err := f.svc.GetStatus(context.Background(), "u1", jobID)
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusFailed, status.Status)
			assert.Equal(t, int64(10), f.balance(t))
			assert.Equal(t, []bool{true}, f.notifier.errors)
			assert.Empty(t, f.indexer.types)
		})
	}
}

func TestWorkerStopsWhenCanceled(t *testing.T) {
	f := newFixture(t)
	jobID, task := f.start(t, "")

	gen := &fakeGenerator{statuses: []client.GeneratorStatus{
		{Status: client.GeneratorProcessing, Progress: 0.2},
	}}
	gen.onPoll = func(n int) {
		if n == 2 {
			_, err := f.svc.CancelGeneration(context.Background(), "u1", jobID)
			require.NoError(t, err)
		}
	}

	require.NoError(t, f.worker(gen, nil).ProcessTask(context.Background(), task))

	status, err := f.svc.GetStatus(context.Background(), "u1", jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCanceled, status.Status)
	assert.Empty(t, f.notifier.complete)
	// Canceled while running keeps the charge
	assert.Equal(t, int64(5), f.balance(t))
}

func TestWorkerSkipsFinishedJob(t *testing.T) {
	f := newFixture(t)
	jobID, task := f.start(t, "")
	_, err := f.svc.CancelGeneration(context.Background(), "u1", jobID)
	require.NoError(t, err)

	gen := &fakeGenerator{}
	require.NoError(t, f.worker(gen, nil).ProcessTask(context.Background(), task))
	assert.Empty(t, gen.requests)
	assert.Equal(t, int64(10), f.balance(t))
}

func TestWorkerMockPipeline(t *testing.T) {
	f := newFixture(t)
	jobID, task := f.start(t, "")

	require.NoError(t, f.worker(nil, nil).ProcessTask(context.Background(), task))

	result, err := f.svc.GetResult(context.Background(), "u1", jobID)
	require.NoError(t, err)
	require.Len(t, result.Files, 1)
	assert.Contains(t, result.Files[0], jobID)
	assert.Equal(t, []int{10, 30, 60, 85, 95}, f.notifier.progress)
}

func TestWorkerMockPipelineStopsOnShutdown(t *testing.T) {
	f := newFixture(t)
	jobID, task := f.start(t, "")
	w := NewGenerationWorker(f.svc, nil, nil, f.notifier, f.indexer, Options{MockStepDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() { done <- w.ProcessTask(ctx, task) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("mock pipeline ignored cancellation")
	}

	assert.Equal(t, []int{10}, f.notifier.progress)
	_, err := f.svc.GetResult(context.Background(), "u1", jobID)
	assert.ErrorIs(t, err, service.ErrJobNotCompleted)
}

func TestWorkerRejectsBadTask(t *testing.T) {
	f := newFixture(t)

	err := f.worker(nil, nil).ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeGeneration, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	data, _ := json.Marshal(service.GenerationTask{JobID: "missing"})
	err = f.worker(nil, nil).ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeGeneration, data))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
