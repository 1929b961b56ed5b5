package irq

import "sync/atomic"

// DispatchResult summarizes a single dispatch.
type DispatchResult struct {
	// Invoked is the number of hooks whose handler ran.
	Invoked int

	// Failed is the number of handlers that returned an error status.
	Failed int

	// Rearmed is true if the line was acknowledged so it can fire again.
	Rearmed bool
}

// Dispatch services an interrupt raised on line. It walks the chain of the
// line from head to tail and invokes each hook handler until one of them
// returns Reenable. Handler errors are logged and counted; they never stop
// the walk so a failing handler cannot starve the other hooks sharing the
// line.
//
// The line is acknowledged when a handler requested it or when every hook
// that ran has the PolicyAutoReenable flag set. Otherwise it stays in service
// until an owner calls EnableLine.
//
// Dispatch must only be called in interrupt context.
func (t *Table) Dispatch(line Line) DispatchResult {
	var res DispatchResult

	if !line.Valid() {
		t.logger.Error("spurious interrupt", "line", line)
		return res
	}

	autoReenable := true
	for id := t.heads[line]; id != NoHook; {
		hook := &t.hooks[id]
		next := hook.next

		if hook.owner != NoOwner && t.notifier != nil {
			t.notifier.Notify(hook.owner, hook.notifyID)
		}

		status := hook.handler.HandleIRQ(hook)
		atomic.AddUint64(&hook.invocations, 1)
		res.Invoked++

		if hook.policy&PolicyAutoReenable == 0 {
			autoReenable = false
		}

		switch status.Action() {
		case ActionReenable:
			res.Rearmed = true
			next = NoHook
		case ActionError:
			atomic.AddUint64(&hook.failures, 1)
			res.Failed++
			t.logger.Warn("handler failed", "line", line, "hook", id, "code", status.Code())
		}

		id = next
	}

	if res.Invoked == 0 {
		t.logger.Trace("interrupt on line without hooks", "line", line)
	}

	if res.Rearmed || autoReenable {
		res.Rearmed = true
		t.ctrl.EndOfInterrupt(line)
	}

	return res
}
