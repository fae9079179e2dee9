package orchestrator

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"autograde/internal/common/db"
	"autograde/internal/grading/model"
	"autograde/internal/grading/notify"
	"autograde/internal/grading/outputs"
	"autograde/internal/grading/repository"
	"autograde/internal/grading/runner"
	"autograde/internal/grading/sandbox"
	appErr "autograde/pkg/errors"
)

type fakeRepo struct {
	mu             sync.Mutex
	submissions    map[int64]*model.Submission
	suites         []model.Suite
	suiteResults   map[[2]int64]model.SuiteResult
	caseResults    map[[2]int64]model.CaseResult
	commandResults map[[2]int64]model.CommandResult
	nextID         int64

	statuses       []model.GradingStatus
	suiteResultErr error
	upsertErrs     map[int64][]error
	upserts        int
	refreshed      []int64
	moved          []int64
}

var _ repository.Repository = (*fakeRepo)(nil)

func newFakeRepo(sub model.Submission, suites ...model.Suite) *fakeRepo {
	return &fakeRepo{
		submissions:    map[int64]*model.Submission{sub.ID: &sub},
		suites:         suites,
		suiteResults:   make(map[[2]int64]model.SuiteResult),
		caseResults:    make(map[[2]int64]model.CaseResult),
		commandResults: make(map[[2]int64]model.CommandResult),
		upsertErrs:     make(map[int64][]error),
	}
}

func (r *fakeRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *fakeRepo) GetSuite(ctx context.Context, tx db.Transaction, suiteID int64) (*model.Suite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.suites {
		if s.ID == suiteID {
			s := s
			return &s, nil
		}
	}
	return nil, appErr.Newf(appErr.SuiteNotFound, "suite %d not found", suiteID)
}

func (r *fakeRepo) ListSuites(ctx context.Context, tx db.Transaction, projectID int64) ([]model.Suite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Suite
	for _, s := range r.suites {
		if s.ProjectID == projectID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeRepo) MoveCase(ctx context.Context, caseID, newSuiteID int64) ([]int64, error) {
	return r.moved, nil
}

func (r *fakeRepo) GetSubmission(ctx context.Context, tx db.Transaction, submissionID int64) (*model.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.submissions[submissionID]
	if !ok {
		return nil, appErr.Newf(appErr.SubmissionNotFound, "submission %d not found", submissionID)
	}
	cp := *sub
	return &cp, nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, submissionID int64, status model.GradingStatus, errMsg string) (model.GradingStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.submissions[submissionID]
	prev := sub.Status
	if prev == status {
		return prev, nil
	}
	if !model.CanTransition(prev, status) {
		return prev, appErr.Newf(appErr.InvalidStatusTransition, "cannot move from %s to %s", prev, status)
	}
	sub.Status = status
	sub.Error = errMsg
	r.statuses = append(r.statuses, status)
	return prev, nil
}

func (r *fakeRepo) UpdateDenormalizedResults(ctx context.Context, submissionID int64) (model.ResultTree, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshed = append(r.refreshed, submissionID)
	return model.ResultTree{}, nil
}

func (r *fakeRepo) LoadResultTree(ctx context.Context, submissionID int64) (model.ResultTree, error) {
	return model.ResultTree{}, nil
}

func (r *fakeRepo) GetOrCreateSuiteResult(ctx context.Context, tx db.Transaction, submissionID, suiteID int64) (*model.SuiteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.suiteResultErr != nil {
		return nil, r.suiteResultErr
	}
	key := [2]int64{submissionID, suiteID}
	res, ok := r.suiteResults[key]
	if !ok {
		res = model.SuiteResult{ID: r.id(), SubmissionID: submissionID, SuiteID: suiteID}
		r.suiteResults[key] = res
	}
	return &res, nil
}

func (r *fakeRepo) UpdateSuiteResult(ctx context.Context, tx db.Transaction, result *model.SuiteResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suiteResults[[2]int64{result.SubmissionID, result.SuiteID}] = *result
	return nil
}

func (r *fakeRepo) GetOrCreateCaseResult(ctx context.Context, tx db.Transaction, suiteResultID, caseID int64) (*model.CaseResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]int64{suiteResultID, caseID}
	res, ok := r.caseResults[key]
	if !ok {
		res = model.CaseResult{ID: r.id(), SuiteResultID: suiteResultID, CaseID: caseID}
		r.caseResults[key] = res
	}
	return &res, nil
}

func (r *fakeRepo) UpsertCommandResult(ctx context.Context, tx db.Transaction, result *model.CommandResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	if errs := r.upsertErrs[result.CommandID]; len(errs) > 0 {
		r.upsertErrs[result.CommandID] = errs[1:]
		if errs[0] != nil {
			return errs[0]
		}
	}
	key := [2]int64{result.CaseResultID, result.CommandID}
	if existing, ok := r.commandResults[key]; ok {
		result.ID = existing.ID
	} else {
		result.ID = r.id()
	}
	r.commandResults[key] = *result
	return nil
}

func (r *fakeRepo) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	return fn(nil)
}

func (r *fakeRepo) status(id int64) model.GradingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submissions[id].Status
}

func (r *fakeRepo) commandResult(caseResultID, commandID int64) (model.CommandResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.commandResults[[2]int64{caseResultID, commandID}]
	return res, ok
}

type fakeRun struct {
	code     int
	stdout   string
	stderr   string
	timedOut bool
}

type fakeFactory struct {
	mu         sync.Mutex
	runs       map[string]fakeRun
	createErr  error
	destroyErr error
	specs      []sandbox.Spec
	handles    []*fakeHandle
}

func (f *fakeFactory) Create(ctx context.Context, spec sandbox.Spec) (sandbox.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	if f.createErr != nil {
		return nil, f.createErr
	}
	h := &fakeHandle{name: spec.Name, factory: f, stdins: make(map[string]string)}
	f.handles = append(f.handles, h)
	return h, nil
}

type fakeHandle struct {
	name      string
	factory   *fakeFactory
	files     []string
	cmds      []string
	stdins    map[string]string
	destroyed bool
}

func (h *fakeHandle) Name() string { return h.name }

func (h *fakeHandle) AddFiles(ctx context.Context, files ...sandbox.File) error {
	for _, f := range files {
		h.files = append(h.files, f.Name)
	}
	return nil
}

func (h *fakeHandle) Run(ctx context.Context, cmd string, opts sandbox.RunOptions) (sandbox.RunResult, error) {
	h.cmds = append(h.cmds, cmd)
	if opts.Stdin != nil {
		data, err := io.ReadAll(opts.Stdin)
		if err != nil {
			return sandbox.RunResult{}, err
		}
		h.stdins[cmd] = string(data)
	}
	run := h.factory.runs[cmd]
	_, _ = io.WriteString(opts.Stdout, run.stdout)
	_, _ = io.WriteString(opts.Stderr, run.stderr)
	return sandbox.RunResult{ReturnCode: run.code, TimedOut: run.timedOut}, nil
}

func (h *fakeHandle) Destroy(ctx context.Context) error {
	h.destroyed = true
	return h.factory.destroyErr
}

type fakeFiles struct {
	dir      string
	contents map[string]string
}

func (f *fakeFiles) SubmissionFiles(ctx context.Context, sub *model.Submission, patterns []string) ([]sandbox.File, error) {
	var out []sandbox.File
	for _, name := range sub.MatchFiles(patterns) {
		out = append(out, sandbox.File{Name: name})
	}
	return out, nil
}

func (f *fakeFiles) InstructorFiles(ctx context.Context, files []model.InstructorFile) ([]sandbox.File, error) {
	var out []sandbox.File
	for _, file := range files {
		out = append(out, sandbox.File{Name: file.Name})
	}
	return out, nil
}

func (f *fakeFiles) OpenInstructorFile(ctx context.Context, file model.InstructorFile) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.contents[file.Name])), nil
}

func (f *fakeFiles) InstructorFilePath(ctx context.Context, file model.InstructorFile) (string, error) {
	path := filepath.Join(f.dir, file.Name)
	if err := os.WriteFile(path, []byte(f.contents[file.Name]), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (n *recordingNotifier) Notify(ctx context.Context, alert notify.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

type recordingCache struct {
	mu          sync.Mutex
	submissions []int64
	projects    []int64
}

func (c *recordingCache) Invalidate(ctx context.Context, projectID, submissionID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submissions = append(c.submissions, submissionID)
	return nil
}

func (c *recordingCache) InvalidateProject(ctx context.Context, projectID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projects = append(c.projects, projectID)
	return nil
}

type harness struct {
	orch     *Orchestrator
	repo     *fakeRepo
	sandbox  *fakeFactory
	outputs  outputs.Store
	notifier *recordingNotifier
	cache    *recordingCache
}

func newHarness(t *testing.T, sub model.Submission, suites ...model.Suite) *harness {
	t.Helper()
	h := &harness{
		repo:     newFakeRepo(sub, suites...),
		sandbox:  &fakeFactory{runs: make(map[string]fakeRun)},
		outputs:  outputs.NewLocalStore(t.TempDir()),
		notifier: &recordingNotifier{},
		cache:    &recordingCache{},
	}
	orch, err := New(Config{
		Repository:         h.repo,
		Sandboxes:          h.sandbox,
		Runner:             runner.New(runner.Config{TempDir: t.TempDir()}),
		Files:              &fakeFiles{dir: t.TempDir(), contents: map[string]string{"expected.txt": "42\n"}},
		Outputs:            h.outputs,
		Notifier:           h.notifier,
		Cache:              h.cache,
		RecoverableBackoff: -1,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	h.orch = orch
	return h
}

func (h *harness) read(t *testing.T, key string) string {
	t.Helper()
	rc, err := h.outputs.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("open %s: %v", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return string(data)
}
