package proc

import (
	"context"
	"sync"
	"testing"
	"time"

	"riscvkern/defs"
	"riscvkern/file"
	"riscvkern/fs"
	"riscvkern/mem"
	"riscvkern/vm"
)

func mkInit(t *testing.T, pt *Ptable_t) *Proc_t {
	t.Helper()
	m := mem.Phys_init(64)
	as, err := vm.Mkvm(m)
	if err != 0 {
		t.Fatalf("Mkvm: %v", err)
	}
	cwd := &file.Cwd_t{Dir: &fs.Cwd_t{}}
	p, err := pt.Init(as, cwd)
	if err != 0 {
		t.Fatalf("Init: %v", err)
	}
	return p
}

func TestForkExitWaitRoundtrip(t *testing.T) {
	pt := MkPtable()
	initp := mkInit(t, pt)

	ctx, cancel := context.WithCancel(context.Background())
	g, _ := StartHarts(ctx, pt, 2)
	defer g.Wait()
	defer cancel()

	result := make(chan struct {
		pid defs.Pid_t
		st  int
		err defs.Err_t
	}, 1)

	initp.Run(func() {
		child, err := pt.Fork(initp)
		if err != 0 {
			result <- struct {
				pid defs.Pid_t
				st  int
				err defs.Err_t
			}{0, 0, err}
			pt.Exit(initp, 0)
			return
		}
		child.Run(func() {
			pt.Exit(child, 42)
		})

		pid, st, werr := pt.Wait(initp, -1)
		result <- struct {
			pid defs.Pid_t
			st  int
			err defs.Err_t
		}{pid, st, werr}
		pt.Exit(initp, 0)
	})

	select {
	case r := <-result:
		if r.err != 0 {
			t.Fatalf("Wait returned error: %v", r.err)
		}
		if r.st != 42 {
			t.Fatalf("exit status = %d, want 42", r.st)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for fork/exit/wait to complete")
	}
}

func TestWaitWithNoChildrenReturnsECHILD(t *testing.T) {
	pt := MkPtable()
	initp := mkInit(t, pt)

	ctx, cancel := context.WithCancel(context.Background())
	g, _ := StartHarts(ctx, pt, 1)
	defer g.Wait()
	defer cancel()

	done := make(chan defs.Err_t, 1)
	initp.Run(func() {
		_, _, err := pt.Wait(initp, -1)
		done <- err
		pt.Exit(initp, 0)
	})

	select {
	case err := <-done:
		if err != -defs.ECHILD {
			t.Fatalf("Wait with no children = %v, want ECHILD", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}
}

func TestKillMarksProcessDoomed(t *testing.T) {
	pt := MkPtable()
	p := mkInit(t, pt)

	if err := pt.Kill(p.Pid); err != 0 {
		t.Fatalf("Kill: %v", err)
	}
	p.Lock()
	killed := p.Killed
	p.Unlock()
	if !killed {
		t.Fatalf("Killed flag not set after Kill")
	}

	if err := pt.Kill(9999); err != -defs.ESRCH {
		t.Fatalf("Kill(nonexistent pid) = %v, want ESRCH", err)
	}
}

func TestSleepWakeupRendezvous(t *testing.T) {
	pt := MkPtable()
	p := mkInit(t, pt)

	ctx, cancel := context.WithCancel(context.Background())
	g, _ := StartHarts(ctx, pt, 1)
	defer g.Wait()
	defer cancel()

	var mu sync.Mutex
	woke := make(chan struct{})
	p.Run(func() {
		mu.Lock()
		pt.Sleep(p, "event", &mu)
		mu.Unlock()
		close(woke)
		pt.Exit(p, 0)
	})

	// Give the process a chance to reach Sleep before we wake it.
	time.Sleep(50 * time.Millisecond)
	pt.Wakeup("event")

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatalf("process never woke up")
	}
}

func TestAccountsSnapshotsLiveProcesses(t *testing.T) {
	pt := MkPtable()
	p1 := mkInit(t, pt)
	p1.Accnt.Utadd(10)

	accs := pt.Accounts()
	if len(accs) != 1 {
		t.Fatalf("Accounts() length = %d, want 1", len(accs))
	}
	u, _ := accs[0].Snapshot()
	if u != 10 {
		t.Fatalf("Accounts()[0] user ns = %d, want 10", u)
	}
}
