package irq

import (
	"reflect"

	"clockos/kernel"
	"clockos/kernel/cpu"

	hclog "github.com/hashicorp/go-hclog"
)

var (
	// ErrInvalidLine is returned when an operation targets a line that
	// does not exist.
	ErrInvalidLine = &kernel.Error{Module: "irq", Message: "invalid IRQ line"}

	// ErrTableFull is returned by Register when all hook IDs are in use.
	ErrTableFull = &kernel.Error{Module: "irq", Message: "too many handlers for IRQ"}

	// ErrNilHandler is returned by Register when no handler is supplied.
	ErrNilHandler = &kernel.Error{Module: "irq", Message: "nil IRQ handler"}

	// ErrUnknownHook is returned when an operation targets a hook ID that
	// is not registered.
	ErrUnknownHook = &kernel.Error{Module: "irq", Message: "unknown hook"}
)

// InterruptGate holds off interrupt delivery while the hook table is being
// modified.
type InterruptGate interface {
	DisableInterrupts()
	EnableInterrupts()
}

// LineController programs the interrupt controller that the lines of a Table
// are wired to.
type LineController interface {
	// MaskLine prevents the line from raising interrupts.
	MaskLine(Line)

	// UnmaskLine allows the line to raise interrupts.
	UnmaskLine(Line)

	// EndOfInterrupt acknowledges the interrupt currently in service on
	// the line so that it can fire again.
	EndOfInterrupt(Line)
}

// Notifier delivers hook notifications to their owners. Implementations are
// invoked in interrupt context and must not block.
type Notifier interface {
	Notify(owner Owner, notifyID uint64)
}

type nopController struct{}

func (nopController) MaskLine(Line)       {}
func (nopController) UnmaskLine(Line)     {}
func (nopController) EndOfInterrupt(Line) {}

// Option customises a Table.
type Option func(*Table)

// WithGate sets the gate used for guarding table updates. By default the
// local CPU gate is used.
func WithGate(gate InterruptGate) Option {
	return func(t *Table) {
		if gate != nil {
			t.gate = gate
		}
	}
}

// WithLineController attaches the interrupt controller that the table
// masks, unmasks and acknowledges lines with.
func WithLineController(ctrl LineController) Option {
	return func(t *Table) {
		if ctrl != nil {
			t.ctrl = ctrl
		}
	}
}

// WithNotifier sets the notifier used for hooks that have an owner.
func WithNotifier(n Notifier) Option {
	return func(t *Table) {
		t.notifier = n
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger hclog.Logger) Option {
	return func(t *Table) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithLazyMask controls whether a line is left unmasked after its last hook
// is removed. Lazy masking suits controllers that share lines with hardware
// outside of this table.
func WithLazyMask(lazy bool) Option {
	return func(t *Table) {
		t.lazyMask = lazy
	}
}

// Table maps each IRQ line to the chain of hooks attached to it. Hooks are
// stored in a fixed arena indexed by their ID and chained through their
// next field, so no memory is allocated once the table is created.
//
// The table is modified only while interrupts are held off through its gate.
// Dispatch must be invoked in interrupt context (i.e. while the gate is
// held by the delivering platform) and reads the chains without locking.
type Table struct {
	gate     InterruptGate
	ctrl     LineController
	notifier Notifier
	logger   hclog.Logger
	lazyMask bool

	hooks [MaxHooks + 1]Hook
	heads [NumLines]HookID
	ids   idBitmap
}

// NewTable creates an empty hook table.
func NewTable(opts ...Option) *Table {
	t := &Table{
		gate:   cpu.LocalGate(),
		ctrl:   nopController{},
		logger: hclog.NewNullLogger(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Register attaches handler to the chain of line and returns the ID of the
// new hook. New hooks are inserted at the head of the chain and therefore
// run before hooks registered earlier.
//
// Registering a handler value that is already attached to line with the same
// owner returns the ID of the existing hook. Only handlers that are
// comparable at run time, such as pointers, are matched this way; function
// handlers always get a new hook. Kernel-internal hooks (owner == NoOwner)
// get their line unmasked immediately; hooks with an owner must be enabled
// by a call to EnableLine.
func (t *Table) Register(line Line, handler Handler, owner Owner, policy Policy) (HookID, *kernel.Error) {
	if !line.Valid() {
		return NoHook, ErrInvalidLine
	}
	if isNilHandler(handler) {
		return NoHook, ErrNilHandler
	}

	id, existing := t.attach(line, handler, owner, policy)

	if id == NoHook {
		t.logger.Warn("too many handlers", "line", line, "in_use", MaxHooks)
		return NoHook, ErrTableFull
	}

	if existing {
		t.logger.Debug("handler already registered", "line", line, "hook", id, "owner", owner)
	} else {
		t.logger.Debug("hook registered", "line", line, "hook", id, "owner", owner, "policy", policy)
	}

	if owner == NoOwner {
		t.ctrl.UnmaskLine(line)
	}

	return id, nil
}

// attach returns the ID of an equivalent hook on line or splices in a new
// one. It returns NoHook if a new hook is needed but no IDs are available.
func (t *Table) attach(line Line, handler Handler, owner Owner, policy Policy) (HookID, bool) {
	t.gate.DisableInterrupts()
	defer t.gate.EnableInterrupts()

	if id := t.findLocked(line, handler, owner); id != NoHook {
		return id, true
	}
	return t.insertLocked(line, handler, owner, policy), false
}

// findLocked returns the ID of a hook on line with an equivalent handler and
// owner or NoHook if there is none.
func (t *Table) findLocked(line Line, handler Handler, owner Owner) HookID {
	for id := t.heads[line]; id != NoHook; id = t.hooks[id].next {
		if hook := &t.hooks[id]; hook.owner == owner && sameHandler(hook.handler, handler) {
			return id
		}
	}

	return NoHook
}

// insertLocked allocates an ID and splices a new hook at the head of the
// chain for line. It returns NoHook without modifying the chain if no IDs
// are available.
func (t *Table) insertLocked(line Line, handler Handler, owner Owner, policy Policy) HookID {
	id := t.ids.alloc()
	if id == NoHook {
		return NoHook
	}

	t.hooks[id] = Hook{
		id:       id,
		line:     line,
		owner:    owner,
		policy:   policy,
		notifyID: 1 << uint(id-1),
		handler:  handler,
		next:     t.heads[line],
	}
	t.heads[line] = id

	return id
}

// Unregister detaches the hook with the given ID from its chain and releases
// its ID. If the chain becomes empty, the line is masked unless the table
// uses lazy masking. Unregistering an unknown ID is a no-op.
func (t *Table) Unregister(id HookID) {
	line, removed, empty := t.detach(id)
	if !removed {
		return
	}

	t.logger.Debug("hook unregistered", "line", line, "hook", id)
	if empty && !t.lazyMask {
		t.ctrl.MaskLine(line)
	}
}

// detach unlinks the hook with the given ID and reports whether the chain
// of its line is now empty.
func (t *Table) detach(id HookID) (line Line, removed, empty bool) {
	t.gate.DisableInterrupts()
	defer t.gate.EnableInterrupts()

	if line, removed = t.removeLocked(id); removed {
		empty = t.heads[line] == NoHook
	}
	return line, removed, empty
}

func (t *Table) removeLocked(id HookID) (Line, bool) {
	if !t.ids.inUse(id) {
		return 0, false
	}

	line := t.hooks[id].line
	for link := &t.heads[line]; *link != NoHook; link = &t.hooks[*link].next {
		if *link == id {
			*link = t.hooks[id].next
			break
		}
	}

	t.hooks[id] = Hook{}
	t.ids.release(id)
	return line, true
}

// EnableLine unmasks and re-arms the line of the hook with the given ID. It
// is called by hook owners once they are ready to receive interrupts and
// after servicing an interrupt that did not re-arm the line.
func (t *Table) EnableLine(id HookID) *kernel.Error {
	line, err := t.lineOf(id)
	if err != nil {
		return err
	}

	t.ctrl.UnmaskLine(line)
	t.ctrl.EndOfInterrupt(line)
	return nil
}

// DisableLine masks the line of the hook with the given ID.
func (t *Table) DisableLine(id HookID) *kernel.Error {
	line, err := t.lineOf(id)
	if err != nil {
		return err
	}

	t.ctrl.MaskLine(line)
	return nil
}

func (t *Table) lineOf(id HookID) (Line, *kernel.Error) {
	t.gate.DisableInterrupts()
	defer t.gate.EnableInterrupts()

	if !t.ids.inUse(id) {
		return 0, ErrUnknownHook
	}
	return t.hooks[id].line, nil
}

// ChainLen returns the number of hooks attached to line.
func (t *Table) ChainLen(line Line) int {
	return len(t.Chain(line))
}

// Chain returns the IDs of the hooks attached to line in dispatch order.
// It must not be called in interrupt context.
func (t *Table) Chain(line Line) []HookID {
	if !line.Valid() {
		return nil
	}

	t.gate.DisableInterrupts()
	defer t.gate.EnableInterrupts()

	var ids []HookID
	for id := t.heads[line]; id != NoHook; id = t.hooks[id].next {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of registered hooks across all lines.
func (t *Table) Len() int {
	t.gate.DisableInterrupts()
	defer t.gate.EnableInterrupts()

	return t.ids.count()
}

// Stats returns the diagnostic counters of the hook with the given ID.
func (t *Table) Stats(id HookID) (HookStats, *kernel.Error) {
	t.gate.DisableInterrupts()
	defer t.gate.EnableInterrupts()

	if !t.ids.inUse(id) {
		return HookStats{}, ErrUnknownHook
	}
	return t.hooks[id].Stats(), nil
}

// sameHandler reports whether a and b are the same handler value. Values
// that cannot be compared at run time never match. This includes functions,
// since closures created from the same literal share their code but not
// their captured state.
func sameHandler(a, b Handler) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() || !vb.Comparable() {
		return false
	}
	return va.Equal(vb)
}

// isNilHandler reports whether h is nil or wraps a nil pointer, function,
// map, slice or channel.
func isNilHandler(h Handler) bool {
	if h == nil {
		return true
	}

	switch v := reflect.ValueOf(h); v.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Slice, reflect.Chan:
		return v.IsNil()
	}
	return false
}
