package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/events"
	"github.com/goliatone/go-oracle/lifecycle"
	sqlstore "github.com/goliatone/go-oracle/store/sql"
	"github.com/goliatone/go-oracle/store/sql/sqltest"
	"github.com/goliatone/go-oracle/storage"
	"github.com/goliatone/go-oracle/webhooks"
)

const (
	escrowAddress = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	chainID       = int64(80002)
	walletA       = "0x00000000000000000000000000000000000000a1"
	walletB       = "0x00000000000000000000000000000000000000b2"
	walletC       = "0x00000000000000000000000000000000000000c3"
	walletD       = "0x00000000000000000000000000000000000000d4"
)

type fakeCVAT struct {
	mu              sync.Mutex
	nextID          int64
	taskJobs        []int64
	createTaskErr   error
	deleteErr       error
	projects        map[int64]bool
	storages        map[int64]bool
	assigned        map[int64]string
	unassigned      []int64
	downloads       []int64
	deletedProjects []int64
}

func newFakeCVAT() *fakeCVAT {
	return &fakeCVAT{
		nextID:   100,
		projects: map[int64]bool{},
		storages: map[int64]bool{},
		assigned: map[int64]string{},
	}
}

func (f *fakeCVAT) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeCVAT) CreateCloudStorage(context.Context, string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id()
	f.storages[id] = true
	return id, nil
}

func (f *fakeCVAT) DeleteCloudStorage(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.storages, id)
	return nil
}

func (f *fakeCVAT) CreateProject(context.Context, core.CreateCVATProjectInput) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id()
	f.projects[id] = true
	return id, nil
}

func (f *fakeCVAT) DeleteProject(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.projects, id)
	f.deletedProjects = append(f.deletedProjects, id)
	return nil
}

func (f *fakeCVAT) CreateTask(context.Context, core.CreateCVATTaskInput) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createTaskErr != nil {
		return 0, f.createTaskErr
	}
	return f.id(), nil
}

func (f *fakeCVAT) ListTaskJobs(_ context.Context, taskID int64) ([]core.CVATJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jobs := make([]core.CVATJob, 0, len(f.taskJobs))
	for _, id := range f.taskJobs {
		jobs = append(jobs, core.CVATJob{ID: id, TaskID: taskID, State: "new"})
	}
	return jobs, nil
}

func (f *fakeCVAT) AssignJob(_ context.Context, jobID int64, wallet string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned[jobID] = wallet
	return nil
}

func (f *fakeCVAT) UnassignJob(_ context.Context, jobID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.assigned, jobID)
	f.unassigned = append(f.unassigned, jobID)
	return nil
}

func (f *fakeCVAT) DownloadJobAnnotations(_ context.Context, jobID int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, jobID)
	return []byte(fmt.Sprintf("annotations-%d", jobID)), nil
}

type fakeEscrows struct {
	escrow   core.Escrow
	manifest core.Manifest
	err      error
}

func newFakeEscrows() *fakeEscrows {
	return &fakeEscrows{
		escrow: core.Escrow{
			Address: escrowAddress,
			ChainID: chainID,
			Status:  core.EscrowStatusPending,
			Balance: "1000",
		},
		manifest: core.Manifest{
			JobType: "image_boxes",
			DataURL: "https://bucket.example.com/data",
			Labels:  []string{"cat"},
			JobSize: 10,
		},
	}
}

func (f *fakeEscrows) GetEscrow(context.Context, int64, string) (core.Escrow, error) {
	if f.err != nil {
		return core.Escrow{}, f.err
	}
	return f.escrow, nil
}

func (f *fakeEscrows) GetManifest(context.Context, core.Escrow) (core.Manifest, error) {
	return f.manifest, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	session *sqlstore.Session
	queue   *webhooks.Queue
	engine  *lifecycle.Engine
	cvat    *fakeCVAT
	escrows *fakeEscrows
	storage *storage.MemoryStorage
	clock   *clock
	seq     int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	session := sqltest.NewSession(t)
	registry := events.NewRegistry()
	queue := webhooks.NewQueue(session, registry, nil)
	queue.RetryPolicy = webhooks.FixedDelayPolicy{}
	h := &harness{
		session: session,
		queue:   queue,
		cvat:    newFakeCVAT(),
		escrows: newFakeEscrows(),
		storage: storage.NewMemoryStorage(),
		clock:   &clock{now: time.Now().UTC()},
	}
	cfg := core.DefaultConfig().CVAT
	cfg.AssignmentTimes = map[string]time.Duration{"image_boxes": 5 * time.Minute}
	engine, err := lifecycle.NewEngine(session, queue, registry, h.cvat, h.escrows, h.storage,
		lifecycle.WithClock(h.clock.Now),
		lifecycle.WithCVATConfig(cfg),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = engine
	return h
}

func (h *harness) inbound(t *testing.T, sender core.Role, eventType string, payload map[string]any) core.Webhook {
	t.Helper()
	h.seq++
	row, _, err := h.session.Webhooks().Create(context.Background(), core.CreateWebhookInput{
		Direction:     core.DirectionInbound,
		Role:          sender,
		EscrowAddress: escrowAddress,
		ChainID:       chainID,
		EventType:     eventType,
		Payload:       payload,
		DedupKey:      fmt.Sprintf("0xsig-%d", h.seq),
	})
	if err != nil {
		t.Fatalf("create inbound %s: %v", eventType, err)
	}
	return row
}

func (h *harness) process(t *testing.T, sender core.Role, handler webhooks.Handler, opts webhooks.ProcessOptions) webhooks.ProcessStats {
	t.Helper()
	if opts.BatchSize == 0 {
		opts.BatchSize = 10
	}
	stats, err := h.queue.ProcessInbound(context.Background(), sender, handler, opts)
	if err != nil {
		t.Fatalf("process %s: %v", sender, err)
	}
	return stats
}

func (h *harness) projects(t *testing.T) []core.Project {
	t.Helper()
	projects, err := h.session.Lifecycle().ListProjectsByEscrow(context.Background(), escrowAddress, chainID)
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	return projects
}

func (h *harness) onlyProject(t *testing.T) core.Project {
	t.Helper()
	projects := h.projects(t)
	if len(projects) != 1 {
		t.Fatalf("expected one project, got %d", len(projects))
	}
	return projects[0]
}

func (h *harness) job(t *testing.T, externalJobID int64) core.Job {
	t.Helper()
	job, err := h.session.Lifecycle().GetJobByExternalID(context.Background(), externalJobID)
	if err != nil {
		t.Fatalf("get job %d: %v", externalJobID, err)
	}
	return job
}

func (h *harness) outbound(t *testing.T, eventType string) []core.Webhook {
	t.Helper()
	rows, _, err := h.session.Webhooks().List(context.Background(), core.WebhookListFilter{
		Direction: core.DirectionOutbound,
		EventType: eventType,
	})
	if err != nil {
		t.Fatalf("list outbound: %v", err)
	}
	return rows
}

// annotating provisions the escrow and moves its project to annotation with
// CVAT jobs 3, 1 and 2.
func (h *harness) annotating(t *testing.T) core.Project {
	t.Helper()
	h.inbound(t, core.RoleJobLauncher, events.TypeEscrowCreated, map[string]any{})
	if stats := h.process(t, core.RoleJobLauncher, h.engine.JobLauncherHandler(), webhooks.ProcessOptions{}); stats.Completed != 1 {
		t.Fatalf("expected escrow_created to complete, got %#v", stats)
	}
	h.cvat.taskJobs = []int64{3, 1, 2}
	if advanced, err := h.engine.TrackEscrowCreation(context.Background(), 10); err != nil || advanced != 1 {
		t.Fatalf("track escrow creation: advanced=%d err=%v", advanced, err)
	}
	return h.onlyProject(t)
}

func (h *harness) assignAndComplete(t *testing.T, wallet string) core.Assignment {
	t.Helper()
	ctx := context.Background()
	assignment, found, err := h.engine.CreateAssignment(ctx, wallet, "")
	if err != nil || !found {
		t.Fatalf("create assignment for %s: found=%v err=%v", wallet, found, err)
	}
	job, err := h.session.Lifecycle().GetJob(ctx, assignment.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	completed, err := h.engine.CompleteAssignment(ctx, job.ExternalJobID, wallet)
	if err != nil || !completed {
		t.Fatalf("complete assignment: completed=%v err=%v", completed, err)
	}
	return assignment
}

var errCVATDown = errors.New("cvat unavailable")
