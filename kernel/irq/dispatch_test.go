package irq

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	hclog "github.com/hashicorp/go-hclog"
)

type notification struct {
	owner    Owner
	notifyID uint64
}

type mockNotifier struct {
	sent []notification
}

func (n *mockNotifier) Notify(owner Owner, notifyID uint64) {
	n.sent = append(n.sent, notification{owner, notifyID})
}

func TestDispatchOrder(t *testing.T) {
	table, _ := newTestTable()

	var calls []string
	for _, name := range []string{"first", "second", "third"} {
		if _, err := table.Register(10, &recordingHandler{name: name, calls: &calls}, NoOwner, PolicyAutoReenable); err != nil {
			t.Fatal(err)
		}
	}

	res := table.Dispatch(10)

	if exp := []string{"third", "second", "first"}; !reflect.DeepEqual(calls, exp) {
		t.Fatalf("expected most recently registered hooks to run first: %v; got %v", exp, calls)
	}

	if res.Invoked != 3 || res.Failed != 0 || !res.Rearmed {
		t.Fatalf("unexpected dispatch result: %+v", res)
	}
}

func TestDispatchIsolatesHandlerErrors(t *testing.T) {
	var (
		logBuf bytes.Buffer
		calls  []string
	)

	table, ctrl := newTestTable(WithLogger(hclog.New(&hclog.LoggerOptions{
		Output: &logBuf,
		Level:  hclog.Warn,
	})))

	// Registered in reverse so that dispatch runs h1, h2 (failing), h3, h4.
	handlers := []*recordingHandler{
		{name: "h4", calls: &calls},
		{name: "h3", calls: &calls},
		{name: "h2", calls: &calls, status: Failed(-5)},
		{name: "h1", calls: &calls},
	}

	var failingID HookID
	for _, h := range handlers {
		id, err := table.Register(7, h, NoOwner, PolicyAutoReenable)
		if err != nil {
			t.Fatal(err)
		}
		if h.name == "h2" {
			failingID = id
		}
	}

	ctrl.reset()
	res := table.Dispatch(7)

	if exp := []string{"h1", "h2", "h3", "h4"}; !reflect.DeepEqual(calls, exp) {
		t.Fatalf("expected hooks after the failing one to run: %v; got %v", exp, calls)
	}

	if res.Invoked != 4 || res.Failed != 1 {
		t.Fatalf("unexpected dispatch result: %+v", res)
	}

	if exp := []ctrlEvent{{"eoi", 7}}; !reflect.DeepEqual(ctrl.events, exp) {
		t.Fatalf("expected controller events %v; got %v", exp, ctrl.events)
	}

	stats, err := table.Stats(failingID)
	if err != nil {
		t.Fatal(err)
	}

	if stats.Invocations != 1 || stats.Failures != 1 {
		t.Fatalf("unexpected stats for failing hook: %+v", stats)
	}

	if got := logBuf.String(); !strings.Contains(got, "handler failed") || !strings.Contains(got, "code=-5") {
		t.Fatalf("expected handler failure to be logged; got %q", got)
	}
}

func TestDispatchReenableStopsWalk(t *testing.T) {
	table, ctrl := newTestTable()

	var calls []string
	for _, h := range []*recordingHandler{
		{name: "tail", calls: &calls},
		{name: "level", calls: &calls, status: Reenable},
		{name: "head", calls: &calls},
	} {
		if _, err := table.Register(11, h, 3, 0); err != nil {
			t.Fatal(err)
		}
	}

	ctrl.reset()
	res := table.Dispatch(11)

	if exp := []string{"head", "level"}; !reflect.DeepEqual(calls, exp) {
		t.Fatalf("expected walk to stop after re-enable request: %v; got %v", exp, calls)
	}

	if !res.Rearmed || res.Invoked != 2 {
		t.Fatalf("unexpected dispatch result: %+v", res)
	}

	if exp := []ctrlEvent{{"eoi", 11}}; !reflect.DeepEqual(ctrl.events, exp) {
		t.Fatalf("expected controller events %v; got %v", exp, ctrl.events)
	}
}

func TestDispatchManualPolicy(t *testing.T) {
	table, ctrl := newTestTable()

	if _, err := table.Register(12, &recordingHandler{name: "auto"}, NoOwner, PolicyAutoReenable); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Register(12, &recordingHandler{name: "manual"}, 4, 0); err != nil {
		t.Fatal(err)
	}

	ctrl.reset()
	res := table.Dispatch(12)

	if res.Rearmed {
		t.Fatal("expected line with a manual hook to stay in service")
	}

	if len(ctrl.events) != 0 {
		t.Fatalf("expected no controller events; got %v", ctrl.events)
	}
}

func TestDispatchNotifiesOwners(t *testing.T) {
	notifier := &mockNotifier{}
	table, _ := newTestTable(WithNotifier(notifier))

	kernelID, err := table.Register(1, &recordingHandler{name: "kbd-kernel"}, NoOwner, PolicyAutoReenable)
	if err != nil {
		t.Fatal(err)
	}

	driverID, err := table.Register(1, &recordingHandler{name: "kbd-driver"}, 21, PolicyAutoReenable)
	if err != nil {
		t.Fatal(err)
	}

	table.Dispatch(1)

	exp := []notification{{owner: 21, notifyID: 1 << uint(driverID-1)}}
	if !reflect.DeepEqual(notifier.sent, exp) {
		t.Fatalf("expected notifications %v; got %v", exp, notifier.sent)
	}

	if stats, _ := table.Stats(kernelID); stats.Invocations != 1 {
		t.Fatalf("expected kernel hook to run once; got %+v", stats)
	}
}

func TestDispatchEmptyAndInvalidLines(t *testing.T) {
	table, ctrl := newTestTable()

	if res := table.Dispatch(8); res.Invoked != 0 || !res.Rearmed {
		t.Fatalf("expected empty line to be acknowledged; got %+v", res)
	}

	if exp := []ctrlEvent{{"eoi", 8}}; !reflect.DeepEqual(ctrl.events, exp) {
		t.Fatalf("expected controller events %v; got %v", exp, ctrl.events)
	}

	ctrl.reset()
	if res := table.Dispatch(NumLines); res != (DispatchResult{}) {
		t.Fatalf("expected invalid line dispatch to be ignored; got %+v", res)
	}

	if len(ctrl.events) != 0 {
		t.Fatalf("expected no controller events; got %v", ctrl.events)
	}
}

func TestStatus(t *testing.T) {
	specs := []struct {
		code      int32
		expAction Action
		expCode   int32
		expStr    string
	}{
		{0, ActionContinue, 0, "continue"},
		{1, ActionReenable, 1, "reenable"},
		{42, ActionReenable, 1, "reenable"},
		{-1, ActionError, -1, "error(-1)"},
		{-22, ActionError, -22, "error(-22)"},
	}

	for specIndex, spec := range specs {
		s := StatusFromCode(spec.code)
		if got := s.Action(); got != spec.expAction {
			t.Errorf("[spec %d] expected action %d; got %d", specIndex, spec.expAction, got)
		}

		if got := s.Code(); got != spec.expCode {
			t.Errorf("[spec %d] expected code %d; got %d", specIndex, spec.expCode, got)
		}

		if got := s.String(); got != spec.expStr {
			t.Errorf("[spec %d] expected string %q; got %q", specIndex, spec.expStr, got)
		}
	}

	if Continue != (Status{}) {
		t.Fatal("expected zero Status to be Continue")
	}
}
