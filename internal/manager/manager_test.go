package manager

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/taskctl/internal/detector"
	"github.com/loykin/taskctl/internal/history"
	"github.com/loykin/taskctl/internal/store"
)

type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
	fail   bool
}

func (s *recordingSink) Send(_ context.Context, e history.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *recordingSink) types() []history.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	dir  string
	st   *store.FileStore
	m    *Manager
	sink *recordingSink
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "state")
	st, err := store.NewFileStore(dir, Alive)
	require.NoError(t, err)
	exe, err := os.Executable()
	require.NoError(t, err)
	sink := &recordingSink{}
	opts := Options{
		Callback: []string{exe},
		Env:      []string{helperEnv + "=1", stateEnv + "=" + dir},
		Sinks:    []history.Sink{sink},
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	return &fixture{dir: dir, st: st, m: New(st, opts), sink: sink}
}

func (f *fixture) launch(t *testing.T, command, name string) LaunchResult {
	t.Helper()
	res, err := f.m.Launch(context.Background(), LaunchRequest{Command: command, Name: name})
	require.NoError(t, err)
	t.Cleanup(func() {
		if rec, err := f.st.Read(context.Background(), res.Record.Name); err == nil && rec.Status == store.StatusRunning {
			_, _ = f.m.Stop(context.Background(), rec.Name)
		}
		select {
		case <-res.Exited:
		case <-time.After(5 * time.Second):
		}
	})
	return res
}

func (f *fixture) waitStatus(t *testing.T, name string, want store.Status) store.Record {
	t.Helper()
	var rec store.Record
	require.Eventually(t, func() bool {
		r, err := f.st.Read(context.Background(), name)
		if err != nil {
			return false
		}
		rec = r
		return r.Status == want
	}, 10*time.Second, 20*time.Millisecond, "task %s never reached %s", name, want)
	return rec
}

// exitedPID returns the pid of a process that has already been reaped.
func exitedPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	return cmd.Process.Pid
}

func TestGenerateName(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	name := GenerateName(at, "echo hi")
	assert.Regexp(t, regexp.MustCompile(`^20260102030405_[0-9a-f]{32}$`), name)
	assert.Equal(t, name, GenerateName(at, "echo hi"))
	assert.NotEqual(t, name, GenerateName(at, "echo bye"))
}

func TestLaunchCompletesWithExitCode(t *testing.T) {
	f := newFixture(t)
	res := f.launch(t, "echo hello; exit 3", "fast")

	assert.Equal(t, store.StatusRunning, res.Record.Status)
	assert.Positive(t, res.Record.PID)
	assert.Nil(t, res.Replaced)

	rec := f.waitStatus(t, "fast", store.StatusDone)
	require.NotNil(t, rec.ExitCode)
	assert.Equal(t, 3, *rec.ExitCode)
	require.NotNil(t, rec.EndedAt)
	require.NotNil(t, rec.Duration)
	assert.GreaterOrEqual(t, *rec.Duration, 0.0)
	assert.Equal(t, res.Record.PID, rec.PID, "pid never changes")

	b, err := os.ReadFile(f.m.LogPath("fast"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello\n")
}

func TestLaunchRecordsDuration(t *testing.T) {
	f := newFixture(t)
	f.launch(t, "sleep 0.3", "sleepy")
	rec := f.waitStatus(t, "sleepy", store.StatusDone)
	assert.Equal(t, 0, *rec.ExitCode)
	assert.GreaterOrEqual(t, *rec.Duration, 0.3)
	assert.InDelta(t, rec.EndedAt.Sub(rec.StartedAt).Seconds(), *rec.Duration, 1e-6)
}

func TestLaunchGeneratesName(t *testing.T) {
	f := newFixture(t)
	res := f.launch(t, "true", "")
	assert.Regexp(t, `^\d{14}_[0-9a-f]{32}$`, res.Record.Name)
	f.waitStatus(t, res.Record.Name, store.StatusDone)
}

func TestConcurrentDuplicateLaunch(t *testing.T) {
	f := newFixture(t)
	const n = 4
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, dups int
		results  []LaunchResult
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.m.Launch(context.Background(), LaunchRequest{Command: "sleep 5", Name: "dup"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
				results = append(results, res)
			case errors.Is(err, ErrDuplicateTask):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, ok, "exactly one launch wins")
	assert.Equal(t, n-1, dups)

	_, err := f.m.Stop(context.Background(), "dup")
	require.NoError(t, err)
	<-results[0].Exited
}

func TestLaunchReplacesFinishedTask(t *testing.T) {
	f := newFixture(t)
	f.launch(t, "echo first", "again")
	f.waitStatus(t, "again", store.StatusDone)

	res := f.launch(t, "echo second", "again")
	require.NotNil(t, res.Replaced)
	assert.Equal(t, store.StatusDone, res.Replaced.Status)
	f.waitStatus(t, "again", store.StatusDone)

	b, err := os.ReadFile(f.m.LogPath("again"))
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(b), "old log is discarded")
}

func TestLaunchReplacesDeadRunningRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.st.Write(ctx, store.Record{Name: "ghost", Command: "x", PID: exitedPID(t), ProcStart: 1, StartedAt: time.Now(), Status: store.StatusRunning}))

	res := f.launch(t, "true", "ghost")
	require.NotNil(t, res.Replaced)
	f.waitStatus(t, "ghost", store.StatusDone)
}

func TestLaunchErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.Launch(ctx, LaunchRequest{Command: "  "})
	require.ErrorIs(t, err, ErrEmptyCommand)

	_, err = f.m.Launch(ctx, LaunchRequest{Command: "true", Name: "../x"})
	require.ErrorIs(t, err, store.ErrInvalidName)

	bad := newFixture(t, func(o *Options) { o.Shell = "/no/such/shell" })
	_, err = bad.m.Launch(ctx, LaunchRequest{Command: "true", Name: "nope"})
	require.ErrorIs(t, err, ErrLaunchFailed)
	_, err = bad.st.Read(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = os.Stat(bad.m.LogPath("nope"))
	assert.True(t, os.IsNotExist(err))
}

func TestLaunchEnv(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Env = append(o.Env, "TASKCTL_GREETING=hi", "TASKCTL_FULL=${TASKCTL_GREETING} there")
	})
	f.launch(t, `echo "$TASKCTL_FULL"`, "env")
	f.waitStatus(t, "env", store.StatusDone)
	b, err := os.ReadFile(f.m.LogPath("env"))
	require.NoError(t, err)
	assert.Equal(t, "hi there\n", string(b))
}

func TestStopSignalsGroup(t *testing.T) {
	f := newFixture(t)
	childFile := filepath.Join(t.TempDir(), "child.pid")
	res := f.launch(t, "sleep 30 & echo $! > "+childFile+"; wait", "group")

	var child int
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(childFile)
		if err != nil {
			return false
		}
		child, err = strconv.Atoi(strings.TrimSpace(string(b)))
		return err == nil && child > 0
	}, 5*time.Second, 10*time.Millisecond)

	rec, err := f.m.Stop(context.Background(), "group")
	require.NoError(t, err)
	assert.Equal(t, store.StatusStopped, rec.Status)
	assert.Nil(t, rec.ExitCode)
	require.NotNil(t, rec.EndedAt)
	require.NotNil(t, rec.Duration)

	select {
	case <-res.Exited:
	case <-time.After(5 * time.Second):
		t.Fatal("task shell did not exit after stop")
	}
	require.Eventually(t, func() bool { return !detector.Alive(child) }, 5*time.Second, 20*time.Millisecond)

	// the exit hook may still fire; it must not overwrite STOPPED
	time.Sleep(300 * time.Millisecond)
	got, err := f.st.Read(context.Background(), "group")
	require.NoError(t, err)
	assert.Equal(t, store.StatusStopped, got.Status)
	assert.Nil(t, got.ExitCode)
}

func TestStopDeadProcessLeavesRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orig := store.Record{Version: store.SchemaVersion, Name: "dead", Command: "x", PID: exitedPID(t), ProcStart: 1, StartedAt: time.Now().Add(-time.Minute), Status: store.StatusRunning}
	require.NoError(t, f.st.Write(ctx, orig))
	before, err := os.ReadFile(f.st.RecordPath("dead"))
	require.NoError(t, err)

	_, err = f.m.Stop(ctx, "dead")
	require.ErrorIs(t, err, ErrNotRunning)
	assert.Contains(t, err.Error(), "pid:"+strconv.Itoa(orig.PID)+"@1")
	after, err := os.ReadFile(f.st.RecordPath("dead"))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	task, err := f.m.Info(ctx, "dead")
	require.NoError(t, err)
	assert.Equal(t, DisplayDead, task.Display())
	assert.True(t, task.Stale())
	assert.Equal(t, store.StatusRunning, task.Status, "dead is never persisted")
}

func TestStopErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.m.Stop(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	f.launch(t, "true", "finished")
	f.waitStatus(t, "finished", store.StatusDone)
	_, err = f.m.Stop(ctx, "finished")
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestCompleteRejectsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.launch(t, "exit 1", "once")
	first := f.waitStatus(t, "once", store.StatusDone)

	_, err := f.m.Complete(ctx, "once", 9, first.PID)
	require.ErrorIs(t, err, ErrNotRunning)
	got, err := f.st.Read(ctx, "once")
	require.NoError(t, err)
	assert.Equal(t, 1, *got.ExitCode)
	assert.True(t, first.EndedAt.Equal(*got.EndedAt))
}

func TestCompleteMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.m.Complete(ctx, "never", 0, 0)
	require.ErrorIs(t, err, ErrRecordMissing)
	_, err = f.m.Complete(ctx, "never", 0, 424242)
	require.ErrorIs(t, err, ErrRecordMissing)
}

func TestCompleteIgnoresOtherPID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := store.Record{Name: "mine", Command: "x", PID: os.Getpid(), StartedAt: time.Now(), Status: store.StatusRunning}
	require.NoError(t, f.st.Write(ctx, rec))

	_, err := f.m.Complete(ctx, "mine", 0, os.Getpid()+100000)
	require.ErrorIs(t, err, ErrRecordMissing)
	got, err := f.st.Read(ctx, "mine")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, got.Status)
}

func TestRenameWhileRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	release := filepath.Join(t.TempDir(), "go")
	f.launch(t, "while [ ! -e "+release+" ]; do sleep 0.05; done; echo finished", "old")

	require.NoError(t, f.m.Rename(ctx, "old", "new"))
	_, err := f.st.Read(ctx, "old")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, os.WriteFile(release, nil, 0o600))
	rec := f.waitStatus(t, "new", store.StatusDone)
	assert.Equal(t, 0, *rec.ExitCode)
	_, err = f.st.Read(ctx, "old")
	require.ErrorIs(t, err, store.ErrNotFound, "completion must not resurrect the old name")

	b, err := os.ReadFile(f.m.LogPath("new"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "finished")
}

func TestRenameRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.launch(t, "echo x", "a")
	orig := f.waitStatus(t, "a", store.StatusDone)

	require.NoError(t, f.m.Rename(ctx, "a", "b"))
	require.NoError(t, f.m.Rename(ctx, "b", "a"))
	got, err := f.st.Read(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, orig.PID, got.PID)
	assert.Equal(t, orig.Command, got.Command)
	assert.Equal(t, *orig.ExitCode, *got.ExitCode)
	assert.True(t, orig.StartedAt.Equal(got.StartedAt))

	require.ErrorIs(t, f.m.Rename(ctx, "zzz", "y"), store.ErrNotFound)
	f.launch(t, "true", "c")
	f.waitStatus(t, "c", store.StatusDone)
	require.ErrorIs(t, f.m.Rename(ctx, "a", "c"), store.ErrAlreadyExists)
}

func TestClearKeepsLiveTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.launch(t, "sleep 30", "live")
	f.launch(t, "true", "done")
	f.waitStatus(t, "done", store.StatusDone)
	require.NoError(t, f.st.Write(ctx, store.Record{Name: "stale", Command: "x", PID: exitedPID(t), ProcStart: 1, StartedAt: time.Now(), Status: store.StatusRunning}))
	require.NoError(t, os.WriteFile(f.m.LogPath("orphan"), []byte("x"), 0o600))

	cleared, err := f.m.Clear(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"done", "stale", "orphan"}, cleared)

	tasks, err := f.m.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "live", tasks[0].Name)
	assert.True(t, tasks[0].Active())
	_, err = os.Stat(f.m.LogPath("live"))
	assert.NoError(t, err)
	_, err = os.Stat(f.m.LogPath("done"))
	assert.True(t, os.IsNotExist(err))
}

func TestRepair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, n := range []string{"s1", "s2"} {
		require.NoError(t, f.st.Write(ctx, store.Record{Name: n, Command: "x", PID: exitedPID(t), ProcStart: 1, StartedAt: time.Now().Add(-time.Second), Status: store.StatusRunning}))
	}
	f.launch(t, "sleep 30", "live")

	rec, err := f.m.Repair(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusStopped, rec.Status)
	assert.Nil(t, rec.ExitCode)
	assert.GreaterOrEqual(t, *rec.Duration, 1.0)

	_, err = f.m.Repair(ctx, "s1")
	require.ErrorIs(t, err, ErrNotRunning)
	_, err = f.m.Repair(ctx, "live")
	require.ErrorIs(t, err, ErrNotRunning)

	fixed, err := f.m.RepairAll(ctx)
	require.NoError(t, err)
	require.Len(t, fixed, 1)
	assert.Equal(t, "s2", fixed[0].Name)

	live, err := f.st.Read(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, live.Status)
}

func TestListRunningAndLogNames(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, func(o *Options) { o.Now = func() time.Time { return base } })
	ctx := context.Background()

	require.NoError(t, f.st.Write(ctx, store.Record{Name: "z-old", Command: "x", PID: exitedPID(t), ProcStart: 1, StartedAt: base.Add(-time.Hour), Status: store.StatusRunning}))
	f.launch(t, "sleep 30", "b-live")
	require.NoError(t, os.WriteFile(f.m.LogPath("z-old"), nil, 0o600))

	tasks, err := f.m.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "z-old", tasks[0].Name, "oldest first")
	assert.Equal(t, DisplayDead, tasks[0].Display())
	assert.Equal(t, "running", tasks[1].Display())

	running, err := f.m.Running(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "b-live", running[0].Name)

	names, err := f.m.LogNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b-live", "z-old"}, names)

	require.NoError(t, f.m.Observe(ctx))
}

func TestListSkipsUnreadableRecords(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "junk.info.json"), []byte("{"), 0o600))
	tasks, err := f.m.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestHistoryEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.launch(t, "true", "h")
	f.waitStatus(t, "h", store.StatusDone)
	require.NoError(t, f.m.Rename(ctx, "h", "h2"))
	_, err := f.m.Clear(ctx)
	require.NoError(t, err)

	// the completion ran in the helper process, which has no sinks
	assert.Equal(t, []history.EventType{history.EventLaunched, history.EventRenamed, history.EventCleared}, f.sink.types())
}

func TestSinkFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t)
	f.sink.fail = true
	f.launch(t, "true", "x")
	f.waitStatus(t, "x", store.StatusDone)
}

func TestWithoutCallbackTaskStaysRunning(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Callback = nil; o.Env = nil })
	res := f.launch(t, "true", "quiet")
	<-res.Exited
	task, err := f.m.Info(context.Background(), "quiet")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, task.Status)
	require.Eventually(t, func() bool {
		task, _ = f.m.Info(context.Background(), "quiet")
		return task.Display() == DisplayDead
	}, 2*time.Second, 20*time.Millisecond)
}
