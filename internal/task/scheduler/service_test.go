package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"dyncron/internal/cronexpr"
	"dyncron/internal/eventbus"
	logx "dyncron/pkg/logx"
)

func newTestService(t *testing.T, exec *fakeExecutor, log logx.Logger) (*Service, *fakeRegistrar) {
	t.Helper()
	reg := &fakeRegistrar{}
	if exec == nil {
		exec = &fakeExecutor{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return New(Config{}, reg, exec, cronexpr.New(time.UTC), log, nil), reg
}

func mustAdd(t *testing.T, s *Service, id, cron string, cb Callback) {
	t.Helper()
	if cb == nil {
		cb = func(string) {}
	}
	if _, err := s.AddTask(TaskSpec{TaskID: id, Cron: cron, Callback: cb}); err != nil {
		t.Fatalf("AddTask(%s): %v", id, err)
	}
}

func TestStartArmsPeriodicTick(t *testing.T) {
	t.Parallel()
	s, reg := newTestService(t, nil, logx.Logger{})
	if got := s.Config().TriggerPeriod; got != DefaultTriggerPeriod {
		t.Fatalf("TriggerPeriod = %s, want %s", got, DefaultTriggerPeriod)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if len(reg.periodic) != 1 || reg.periods[0] != DefaultTriggerPeriod {
		t.Fatalf("periodic = %d %v, want one at %s", len(reg.periodic), reg.periods, DefaultTriggerPeriod)
	}

	mustAdd(t, s, "t1", "*/2 * * * * ?", nil)
	reg.periodic[0].fire()
	if _, ok := reg.live()["t1"]; !ok {
		t.Fatal("tick did not install t1")
	}
}

func TestAddTaskArgumentErrors(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, nil, logx.Logger{})

	if _, err := s.AddTask(TaskSpec{TaskID: "t1", Cron: "* * * * * ?"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("nil callback: err = %v", err)
	}
	if _, err := s.AddTask(TaskSpec{Cron: "* * * * * ?", Callback: func(string) {}}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("empty id: err = %v", err)
	}
	if err := s.DeleteTask(""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("DeleteTask empty: err = %v", err)
	}
	if n := len(s.Registered()); n != 0 {
		t.Fatalf("registry changed on invalid input: %d entries", n)
	}

	// The cron is not validated at add time.
	added, err := s.AddTask(TaskSpec{TaskID: "bad", Cron: "not-a-cron", Callback: func(string) {}})
	if err != nil || !added {
		t.Fatalf("AddTask(bad cron) = %v, %v; want true, nil", added, err)
	}
	added, _ = s.AddTask(TaskSpec{TaskID: "bad", Cron: "not-a-cron", Callback: func(string) {}})
	if added {
		t.Fatal("equal spec added twice")
	}
}

func TestDeleteUnknownIsNoop(t *testing.T) {
	t.Parallel()
	buf, log := bufferLogger()
	s, _ := newTestService(t, nil, log)
	mustAdd(t, s, "keep", "* * * * * ?", nil)

	if err := s.DeleteTask("nope"); err != nil {
		t.Fatalf("DeleteTask(unknown) = %v", err)
	}
	if n := len(s.Registered()); n != 1 {
		t.Fatalf("registry size = %d, want 1", n)
	}
	if buf.count("delete: task not registered") != 1 {
		t.Fatal("missing info log for unknown delete")
	}
}

func TestReconcileInstallsFiresAndRetires(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	s, reg := newTestService(t, nil, logx.Logger{})
	mustAdd(t, s, "t1", "*/2 * * * * ?", rec.cb)
	s.Reconcile()

	live := reg.live()["t1"]
	if len(live) != 1 {
		t.Fatalf("live handles for t1 = %d, want 1", len(live))
	}
	live[0].fire()
	live[0].fire()
	if rec.count("t1") != 2 {
		t.Fatalf("callback invoked %d times, want 2", rec.count("t1"))
	}

	// A second pass with no changes must not re-arm.
	s.Reconcile()
	if n := len(reg.all()); n != 1 {
		t.Fatalf("cron handles created = %d, want 1", n)
	}

	if err := s.DeleteTask("t1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	s.Reconcile()
	if !live[0].Cancelled() {
		t.Fatal("handle not cancelled after delete")
	}
	live[0].fire()
	if rec.count("t1") != 2 {
		t.Fatal("callback invoked after delete")
	}
	if len(s.Snapshot().Active) != 0 {
		t.Fatal("active table not empty")
	}
}

// After a quiet pass the table holds exactly the registered ids.
func TestReconcileConvergesForAnyInterleaving(t *testing.T) {
	t.Parallel()
	crons := []string{"*/2 * * * * ?", "*/5 * * * * ?", "0 * * * * ?"}
	for seed := int64(1); seed <= 20; seed++ {
		seed := seed
		t.Run(fmt.Sprintf("seed%d", seed), func(t *testing.T) {
			t.Parallel()
			rnd := rand.New(rand.NewSource(seed))
			s, reg := newTestService(t, nil, logx.Logger{})
			want := map[string]string{}
			for op := 0; op < 60; op++ {
				id := fmt.Sprintf("t%d", rnd.Intn(6))
				switch rnd.Intn(4) {
				case 0:
					_ = s.DeleteTask(id)
					delete(want, id)
				default:
					c := crons[rnd.Intn(len(crons))]
					added, _ := s.AddTask(TaskSpec{TaskID: id, Cron: c, Callback: func(string) {}})
					if added {
						want[id] = c
					}
				}
				if rnd.Intn(5) == 0 {
					s.Reconcile()
				}
			}
			s.Reconcile()

			active := s.Snapshot().Active
			if len(active) != len(want) {
				t.Fatalf("active = %d entries, want %d", len(active), len(want))
			}
			for _, a := range active {
				if want[a.TaskID] != a.Cron {
					t.Fatalf("task %s installed %q, want %q", a.TaskID, a.Cron, want[a.TaskID])
				}
			}
			live := reg.live()
			if len(live) != len(want) {
				t.Fatalf("live handles for %d ids, want %d", len(live), len(want))
			}
			for id, hs := range live {
				if len(hs) != 1 {
					t.Fatalf("task %s has %d live handles", id, len(hs))
				}
			}
		})
	}
}

// A cron change cancels the old trigger before the new one is armed.
func TestCronChangeReplacesTrigger(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	reg := &fakeRegistrar{}
	s := New(Config{}, reg, &fakeExecutor{}, cronexpr.New(time.UTC), logx.Nop(), bus)

	mustAdd(t, s, "t1", "*/10 * * * * ?", nil)
	s.Reconcile()
	mustAdd(t, s, "t1", "*/2 * * * * ?", nil)
	if n := len(s.Registered()); n != 2 {
		t.Fatalf("registry holds %d entries before the pass, want 2", n)
	}
	s.Reconcile()

	all := reg.all()
	if len(all) != 2 {
		t.Fatalf("cron handles = %d, want 2", len(all))
	}
	if !all[0].Cancelled() || all[0].expr != "*/10 * * * * ?" {
		t.Fatalf("old trigger not cancelled: %+v", all[0])
	}
	if all[1].Cancelled() || all[1].expr != "*/2 * * * * ?" {
		t.Fatalf("new trigger not armed: %+v", all[1])
	}
	if got := s.Registered(); len(got) != 1 || got[0].Cron != "*/2 * * * * ?" {
		t.Fatalf("registry after dedupe = %+v", got)
	}

	var topics []string
	for len(events) > 0 {
		topics = append(topics, (<-events).Type)
	}
	want := []string{eventbus.TopicScheduleAdded, eventbus.TopicScheduleRetire, eventbus.TopicScheduleAdded}
	if !equalStrings(topics, want) {
		t.Fatalf("events = %v, want %v", topics, want)
	}
}

// Cancelling does not interrupt a running callback.
func TestCancelIsNonInterrupting(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{async: true}
	s, reg := newTestService(t, exec, logx.Logger{})

	started := make(chan struct{})
	release := make(chan struct{})
	var finished, calls atomic.Int32
	mustAdd(t, s, "slow", "* * * * * ?", func(string) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		finished.Add(1)
	})
	s.Reconcile()
	h := reg.live()["slow"][0]
	h.fire()
	<-started

	_ = s.DeleteTask("slow")
	s.Reconcile()
	if !h.Cancelled() {
		t.Fatal("handle not cancelled")
	}
	h.fire()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if finished.Load() != 1 || calls.Load() != 1 {
		t.Fatalf("finished = %d calls = %d, want 1 and 1", finished.Load(), calls.Load())
	}
}

// An invalid cron is reported on every pass and blocks nothing else.
func TestInvalidCronLoggedEveryPass(t *testing.T) {
	t.Parallel()
	buf, log := bufferLogger()
	rec := &recorder{}
	s, reg := newTestService(t, nil, log)

	mustAdd(t, s, "bad", "not-a-cron", rec.cb)
	mustAdd(t, s, "blank", "  ", rec.cb)
	mustAdd(t, s, "good", "*/2 * * * * ?", rec.cb)
	for i := 0; i < 3; i++ {
		s.Reconcile()
	}

	if n := buf.count("task not scheduled: invalid cron"); n != 3 {
		t.Fatalf("invalid cron logged %d times, want 3", n)
	}
	if n := buf.count("task not scheduled: blank cron"); n != 3 {
		t.Fatalf("blank cron logged %d times, want 3", n)
	}
	live := reg.live()
	if _, ok := live["bad"]; ok {
		t.Fatal("invalid cron was installed")
	}
	if len(live["good"]) != 1 {
		t.Fatal("valid task not installed")
	}
	live["good"][0].fire()
	if rec.count("good") != 1 || rec.count("bad") != 0 {
		t.Fatalf("calls good=%d bad=%d", rec.count("good"), rec.count("bad"))
	}
	if n := len(s.Registered()); n != 3 {
		t.Fatalf("bad entries must stay registered; registry = %d", n)
	}
}

func TestChangeToInvalidCronRetiresOld(t *testing.T) {
	t.Parallel()
	buf, log := bufferLogger()
	s, reg := newTestService(t, nil, log)

	mustAdd(t, s, "t1", "*/2 * * * * ?", nil)
	s.Reconcile()
	old := reg.live()["t1"][0]

	mustAdd(t, s, "t1", "61 * * * * ?", nil)
	s.Reconcile()
	if !old.Cancelled() {
		t.Fatal("old trigger still armed after change to invalid cron")
	}
	if len(reg.live()) != 0 {
		t.Fatal("invalid cron armed")
	}
	if buf.count("task not scheduled: invalid cron") != 1 {
		t.Fatal("invalid cron not logged")
	}
}

func TestRejectedFiringIsDroppedAndStaysArmed(t *testing.T) {
	t.Parallel()
	buf, log := bufferLogger()
	exec := &fakeExecutor{}
	exec.reject.Store(true)
	rec := &recorder{}
	s, reg := newTestService(t, exec, log)

	mustAdd(t, s, "t1", "* * * * * ?", rec.cb)
	s.Reconcile()
	h := reg.live()["t1"][0]
	h.fire()
	h.fire()
	if rec.count("t1") != 0 {
		t.Fatal("rejected firing ran")
	}
	// Per-task throttle: one warning for the burst.
	if n := buf.count("firing dropped"); n != 1 {
		t.Fatalf("warnings = %d, want 1", n)
	}
	if h.Cancelled() {
		t.Fatal("rejection unscheduled the task")
	}

	exec.reject.Store(false)
	h.fire()
	if rec.count("t1") != 1 {
		t.Fatal("task did not run once the executor accepted it")
	}
}

func TestCallbackPanicKeepsScheduleArmed(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	reg := &fakeRegistrar{}
	s := New(Config{}, reg, &fakeExecutor{}, cronexpr.New(time.UTC), logx.Nop(), bus)

	var calls atomic.Int32
	mustAdd(t, s, "boom", "* * * * * ?", func(string) {
		calls.Add(1)
		panic("callback failed")
	})
	s.Reconcile()
	for len(events) > 0 {
		<-events
	}
	h := reg.live()["boom"][0]
	h.fire()
	h.fire()
	if calls.Load() != 2 || h.Cancelled() {
		t.Fatalf("calls = %d cancelled = %v", calls.Load(), h.Cancelled())
	}

	var finished int
	for len(events) > 0 {
		e := <-events
		if e.Type != eventbus.TopicTaskFinished {
			continue
		}
		finished++
		re := e.Data.(eventbus.RunEvent)
		if re.Error != "callback failed" || re.FireID == "" {
			t.Fatalf("finished event = %+v", re)
		}
	}
	if finished != 2 {
		t.Fatalf("finished events = %d, want 2", finished)
	}
}

// A callback may edit the registry; the edit applies on the next pass.
func TestCallbackMayEditRegistry(t *testing.T) {
	t.Parallel()
	s, reg := newTestService(t, nil, logx.Logger{})

	mustAdd(t, s, "parent", "* * * * * ?", func(id string) {
		if _, err := s.AddTask(TaskSpec{TaskID: "child", Cron: "*/2 * * * * ?", Callback: func(string) {}}); err != nil {
			t.Errorf("AddTask from callback: %v", err)
		}
		if err := s.DeleteTask(id); err != nil {
			t.Errorf("DeleteTask from callback: %v", err)
		}
	})
	s.Reconcile()
	reg.live()["parent"][0].fire()
	if _, ok := reg.live()["parent"]; !ok {
		t.Fatal("registry edits applied before the next pass")
	}
	s.Reconcile()
	live := reg.live()
	if _, ok := live["parent"]; ok {
		t.Fatal("parent still armed")
	}
	if len(live["child"]) != 1 {
		t.Fatal("child not armed")
	}
}

func TestShutdownCancelsEverything(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{}
	s, reg := newTestService(t, exec, logx.Logger{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		mustAdd(t, s, fmt.Sprintf("t%d", i), "* * * * * ?", nil)
	}
	s.Reconcile()

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if exec.shutdown.Load() != 1 {
		t.Fatalf("executor shut down %d times, want 1", exec.shutdown.Load())
	}
	if !reg.periodic[0].Cancelled() {
		t.Fatal("reconciliation tick still armed")
	}
	for _, h := range reg.all() {
		if !h.Cancelled() {
			t.Fatalf("handle %s still armed", h.name)
		}
	}

	// Passes after shutdown do nothing.
	mustAddErr := func() error {
		_, err := s.AddTask(TaskSpec{TaskID: "late", Cron: "* * * * * ?", Callback: func(string) {}})
		return err
	}
	if err := mustAddErr(); !errors.Is(err, ErrStopped) || !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("AddTask after shutdown: err = %v", err)
	}
	s.Reconcile()
	snap := s.Snapshot()
	if !snap.Stopped || len(snap.Active) != 0 {
		t.Fatalf("snapshot after shutdown = %+v", snap)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Start after shutdown: err = %v", err)
	}
}

func TestSnapshotReportsNextFire(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, nil, logx.Logger{})
	mustAdd(t, s, "t1", "0 0 * * * ?", nil)
	s.Reconcile()

	snap := s.Snapshot()
	if snap.Registered != 1 || snap.Passes != 1 || snap.LastPass.IsZero() {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Active) != 1 {
		t.Fatalf("active = %d", len(snap.Active))
	}
	next := snap.Active[0].Next
	if next.IsZero() || !next.After(time.Now()) || next.Minute() != 0 || next.Second() != 0 {
		t.Fatalf("next = %v", next)
	}
}

// Deleting a task and adding it back with the same cron must arm the new
// callback on the next pass.
func TestReAddWithSameCronArmsNewCallback(t *testing.T) {
	t.Parallel()
	s, reg := newTestService(t, nil, logx.Logger{})

	var oldCalls, newCalls atomic.Int32
	mustAdd(t, s, "b", "0 0 * * * ?", func(string) { oldCalls.Add(1) })
	s.Reconcile()
	first := reg.live()["b"]
	if len(first) != 1 {
		t.Fatalf("live handles = %d, want 1", len(first))
	}

	if err := s.DeleteTask("b"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	mustAdd(t, s, "b", "0 0 * * * ?", func(string) { newCalls.Add(1) })
	s.Reconcile()

	if !first[0].Cancelled() {
		t.Fatal("old trigger still armed")
	}
	live := reg.live()["b"]
	if len(live) != 1 {
		t.Fatalf("live handles = %d, want 1", len(live))
	}
	live[0].fire()
	first[0].fire()
	if oldCalls.Load() != 0 || newCalls.Load() != 1 {
		t.Fatalf("old calls = %d new calls = %d, want 0 and 1", oldCalls.Load(), newCalls.Load())
	}

	// An equal spec added without a delete is ignored and does not re-arm.
	if added, err := s.AddTask(TaskSpec{TaskID: "b", Cron: "0 0 * * * ?", Callback: func(string) {}}); err != nil || added {
		t.Fatalf("AddTask duplicate = %v, %v", added, err)
	}
	s.Reconcile()
	if n := len(reg.all()); n != 2 {
		t.Fatalf("cron handles created = %d, want 2", n)
	}
}

func TestRetiredTaskForgetsSubmitWarning(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{}
	exec.reject.Store(true)
	s, reg := newTestService(t, exec, logx.Logger{})

	mustAdd(t, s, "t1", "* * * * * ?", nil)
	s.Reconcile()
	reg.live()["t1"][0].fire()

	warned := func() bool {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		_, ok := s.lastSubWarn["t1"]
		return ok
	}
	if !warned() {
		t.Fatal("rejection not tracked")
	}
	if err := s.DeleteTask("t1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	s.Reconcile()
	if warned() {
		t.Fatal("warning state kept for a retired task")
	}
}
