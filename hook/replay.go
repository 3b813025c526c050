package hook

import (
	"io"

	"github.com/benbjohnson/concolic"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Event represents one recorded instrumentation call. Only the fields used
// by the named event are meaningful.
type Event struct {
	Event  string `yaml:"event"`
	ID     int32  `yaml:"id,omitempty"`
	Addr   uint64 `yaml:"addr,omitempty"`
	Type   int8   `yaml:"type,omitempty"`
	Value  int64  `yaml:"value,omitempty"`
	Op     Op     `yaml:"op,omitempty"`
	Size   uint   `yaml:"size,omitempty"`
	Branch int32  `yaml:"branch,omitempty"`
	Taken  bool   `yaml:"taken,omitempty"`
	Fn     uint32 `yaml:"fn,omitempty"`
}

// Event names.
const (
	EventRegGlobal    = "reg_global"
	EventLoad         = "load"
	EventDeref        = "deref"
	EventStore        = "store"
	EventWrite        = "write"
	EventClearStack   = "clear_stack"
	EventApply1       = "apply1"
	EventApply2       = "apply2"
	EventPtrApply2    = "ptr_apply2"
	EventBranch       = "branch"
	EventCall         = "call"
	EventReturn       = "return"
	EventHandleReturn = "handle_return"
	EventInput        = "input"
)

// ReadEvents decodes a YAML list of events.
func ReadEvents(r io.Reader) ([]Event, error) {
	var events []Event
	if err := yaml.NewDecoder(r).Decode(&events); err == io.EOF {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "decode events")
	}
	return events, nil
}

// Replay delivers events to the runtime in order. An event stream that
// desynchronizes the interpreter is returned as a *concolic.ProtocolError and
// the runtime must not be used afterwards.
func (r *Runtime) Replay(events []Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			perr, ok := rec.(*concolic.ProtocolError)
			if !ok {
				panic(rec)
			}
			err = perr
		}
	}()

	for i := range events {
		if err := r.apply(&events[i]); err != nil {
			return errors.Wrapf(err, "event %d", i)
		}
	}
	return nil
}

func (r *Runtime) apply(e *Event) error {
	switch e.Event {
	case EventRegGlobal:
		r.RegGlobal(e.ID, e.Addr, e.Size)
	case EventLoad:
		r.Load(e.ID, e.Addr, e.Type, e.Value)
	case EventDeref:
		r.Deref(e.ID, e.Addr, e.Type, e.Value)
	case EventStore:
		r.Store(e.ID, e.Addr)
	case EventWrite:
		r.Write(e.ID, e.Addr)
	case EventClearStack:
		r.ClearStack(e.ID)
	case EventApply1:
		r.Apply1(e.ID, e.Op, e.Type, e.Value)
	case EventApply2:
		r.Apply2(e.ID, e.Op, e.Type, e.Value)
	case EventPtrApply2:
		r.PtrApply2(e.ID, e.Op, e.Size, e.Value)
	case EventBranch:
		r.Branch(e.ID, e.Branch, e.Taken)
	case EventCall:
		r.Call(e.ID, e.Fn)
	case EventReturn:
		r.Return(e.ID)
	case EventHandleReturn:
		r.HandleReturn(e.ID, e.Type, e.Value)
	case EventInput:
		r.Input(e.Type, e.Addr)
	default:
		return errors.Errorf("unknown event: %q", e.Event)
	}
	return nil
}
