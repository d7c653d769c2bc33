package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSupervisor_RestartsFailedTask(t *testing.T) {
	sup := NewSupervisor(time.Millisecond, nil)
	var runs atomic.Int32

	sup.Go(context.Background(), Task{Name: "flaky", Run: func(ctx context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("boom")
		case 2:
			panic("worse")
		default:
			return nil
		}
	}})
	sup.Wait()

	st := sup.Status()
	if len(st) != 1 {
		t.Fatalf("status=%+v", st)
	}
	if st[0].State != TaskCompleted || st[0].Restarts != 2 {
		t.Fatalf("status=%+v", st[0])
	}
	if st[0].LastError != "panic: worse" {
		t.Fatalf("last error=%q", st[0].LastError)
	}
}

func TestSupervisor_IsolatesTasks(t *testing.T) {
	sup := NewSupervisor(time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	sup.Go(ctx, Task{Name: "broken", Run: func(ctx context.Context) error {
		return errors.New("always")
	}})
	sup.Go(ctx, Task{Name: "steady", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	time.Sleep(20 * time.Millisecond)
	cancel()
	sup.Wait()

	st := sup.Status()
	if st[0].Name != "broken" || st[0].Restarts == 0 || st[0].State != TaskStopped {
		t.Fatalf("broken=%+v", st[0])
	}
	if st[1].Name != "steady" || st[1].Restarts != 0 || st[1].State != TaskStopped {
		t.Fatalf("steady=%+v", st[1])
	}
}
