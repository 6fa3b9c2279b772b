package trace

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/hooks"
)

// PluginName is the registry name of the recorder plugin.
const PluginName = "trace/recorder"

// HistoryConfig bounds how much the recorder keeps.
type HistoryConfig struct {
	// MaxEvents caps the stored events; 0 keeps everything. The oldest
	// events are dropped first.
	MaxEvents int
}

// Recorder keeps a timeline of power events, grouped by request.
type Recorder struct {
	mu       sync.RWMutex
	byReq    map[string][]*core.PowerEvent
	all      []*core.PowerEvent
	cfg      HistoryConfig
	eventSeq int64
	now      func() time.Time
}

// NewRecorder returns an empty recorder.
func NewRecorder(cfg HistoryConfig) *Recorder {
	return &Recorder{
		byReq: make(map[string][]*core.PowerEvent),
		cfg:   cfg,
		now:   time.Now,
	}
}

// Hooks returns the bundle that feeds the recorder from a broker.
func (r *Recorder) Hooks() hooks.HookBundle {
	return hooks.HookBundle{
		Any: []hooks.StageHook{func(ctx *hooks.StageContext) error {
			r.Record(eventFromStage(ctx))
			return nil
		}},
	}
}

func eventFromStage(ctx *hooks.StageContext) *core.PowerEvent {
	meta := map[string]string{}
	switch ctx.Stage {
	case core.PowerUpApplied, core.PowerUpRaced, core.PowerRemoved, core.SuspendSkipped:
		meta["use_count"] = strconv.Itoa(ctx.UseCount)
	case core.PowerDownDecided:
		meta["use_count"] = strconv.Itoa(ctx.UseCount)
		meta["cluster_active"] = strconv.Itoa(ctx.ClusterActive)
		meta["last_man"] = strconv.FormatBool(ctx.LastMan)
		meta["skip_suspend"] = strconv.FormatBool(ctx.SkipSuspend)
	case core.TeardownComplete:
		meta["scope"] = ctx.Scope.String()
	}
	if ctx.Err != nil {
		meta["error"] = ctx.Err.Error()
	}
	return &core.PowerEvent{
		RequestID: ctx.RequestID,
		Core:      ctx.Core,
		EventType: ctx.Stage,
		Metadata:  meta,
	}
}

// Record stores one event, stamping its sequence number and time.
func (r *Recorder) Record(event *core.PowerEvent) {
	if event == nil {
		return
	}
	event.Sequence = atomic.AddInt64(&r.eventSeq, 1)
	if event.Time.IsZero() {
		event.Time = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if event.RequestID != "" {
		r.byReq[event.RequestID] = append(r.byReq[event.RequestID], event)
	}
	r.all = append(r.all, event)
	if r.cfg.MaxEvents > 0 && len(r.all) > r.cfg.MaxEvents {
		r.trimLocked()
	}
}

// trimLocked drops the oldest events until the cap holds.
func (r *Recorder) trimLocked() {
	excess := len(r.all) - r.cfg.MaxEvents
	if excess <= 0 {
		return
	}
	r.all = r.all[excess:]
	r.byReq = make(map[string][]*core.PowerEvent)
	for _, ev := range r.all {
		if ev.RequestID != "" {
			r.byReq[ev.RequestID] = append(r.byReq[ev.RequestID], ev)
		}
	}
}

// Events returns every stored event in sequence order.
func (r *Recorder) Events() []*core.PowerEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*core.PowerEvent(nil), r.all...)
}

// Count returns how many stored events have the given type.
func (r *Recorder) Count(t core.PowerEventType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ev := range r.all {
		if ev.EventType == t {
			n++
		}
	}
	return n
}

// Timeline returns the events of one request, or nil if unknown.
func (r *Recorder) Timeline(requestID string) *core.RequestTimeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events, ok := r.byReq[requestID]
	if !ok || len(events) == 0 {
		return nil
	}
	return &core.RequestTimeline{
		RequestID: requestID,
		Core:      events[0].Core,
		Events:    append([]*core.PowerEvent(nil), events...),
	}
}

// Timelines returns every request's timeline ordered by first event.
func (r *Recorder) Timelines() []*core.RequestTimeline {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byReq))
	for id := range r.byReq {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]*core.RequestTimeline, 0, len(ids))
	for _, id := range ids {
		if tl := r.Timeline(id); tl != nil {
			out = append(out, tl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Events[0].Sequence < out[j].Events[0].Sequence
	})
	return out
}

// Reset clears the recorder.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byReq = make(map[string][]*core.PowerEvent)
	r.all = nil
}

// Register makes rec loadable from reg under PluginName.
func Register(reg *hooks.Registry, rec *Recorder) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	if rec == nil {
		return fmt.Errorf("recorder is nil")
	}
	desc := hooks.PluginDescriptor{
		Name:        PluginName,
		Category:    hooks.PluginCategoryTracing,
		Description: "power event timeline recorder",
	}
	return reg.Register(PluginName, desc, func(b *hooks.PluginBroker) error {
		if b == nil {
			return fmt.Errorf("plugin broker is nil")
		}
		b.RegisterBundle(desc, rec.Hooks())
		return nil
	})
}
