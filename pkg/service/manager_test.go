package service

import (
	"context"
	stderrors "errors"
	"slices"
	"strings"
	"testing"
)

type journal struct{ events []string }

func (j *journal) wrap(name string, deps []string, startErr error) *ServiceWrapper {
	return NewServiceWrapper(name, TypeListener, deps,
		func(context.Context) error {
			if startErr != nil {
				return startErr
			}
			j.events = append(j.events, "start:"+name)
			return nil
		},
		func(context.Context) error {
			j.events = append(j.events, "stop:"+name)
			return nil
		},
	)
}

func TestStartAllFollowsDependencies(t *testing.T) {
	j := &journal{}
	sm := NewServiceManager(nil)
	for _, s := range []Service{
		j.wrap("commands", []string{"code_board"}, nil),
		j.wrap("code_board", []string{"task_router"}, nil),
		j.wrap("task_router", nil, nil),
		j.wrap("feed", []string{"task_router"}, nil),
	} {
		if err := sm.Register(s); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	if err := sm.StartAll(context.Background()); err != nil {
		t.Fatalf("start all: %v", err)
	}
	want := []string{"start:task_router", "start:code_board", "start:commands", "start:feed"}
	if !slices.Equal(j.events, want) {
		t.Fatalf("start order = %v, want %v", j.events, want)
	}
	if got := sm.GetRunningServices(); len(got) != 4 {
		t.Fatalf("running = %v", got)
	}

	j.events = nil
	if err := sm.StopAll(context.Background()); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	want = []string{"stop:feed", "stop:commands", "stop:code_board", "stop:task_router"}
	if !slices.Equal(j.events, want) {
		t.Fatalf("stop order = %v, want %v", j.events, want)
	}
	info, err := sm.GetServiceInfo("feed")
	if err != nil || info.State != StateStopped {
		t.Fatalf("feed state = %v (%v)", info.State, err)
	}
}

func TestStartAllRollsBackOnFailure(t *testing.T) {
	j := &journal{}
	sm := NewServiceManager(nil)
	_ = sm.Register(j.wrap("task_router", nil, nil))
	_ = sm.Register(j.wrap("zz_broken", []string{"task_router"}, stderrors.New("no channel")))

	err := sm.StartAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "zz_broken") {
		t.Fatalf("expected start failure, got %v", err)
	}
	if !slices.Equal(j.events, []string{"start:task_router", "stop:task_router"}) {
		t.Fatalf("unexpected events %v", j.events)
	}
	info, _ := sm.GetServiceInfo("zz_broken")
	if info.State != StateError || info.LastError == nil {
		t.Fatalf("broken service state = %v err=%v", info.State, info.LastError)
	}
}

func TestRegisterRejectsDuplicatesAndCycles(t *testing.T) {
	j := &journal{}
	sm := NewServiceManager(nil)
	if err := sm.Register(j.wrap("a", []string{"b"}, nil)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := sm.Register(j.wrap("a", nil, nil)); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
	_ = sm.Register(j.wrap("b", []string{"a"}, nil))
	if err := sm.StartAll(context.Background()); err == nil || !strings.Contains(err.Error(), "circular") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestUnknownDependency(t *testing.T) {
	sm := NewServiceManager(nil)
	_ = sm.Register((&journal{}).wrap("a", []string{"missing"}, nil))
	if err := sm.StartAll(context.Background()); err == nil || !strings.Contains(err.Error(), "unknown service") {
		t.Fatalf("expected unknown dependency error, got %v", err)
	}
}
