package hw

import (
	"context"
	"fmt"
	"sync"

	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/platform"
)

// ResetSignal unwinds a core's stack when it re-enters through its reset
// path. It is recovered by whatever runs the core; see CatchReset.
type ResetSignal struct {
	Core core.CoreID
}

func (r ResetSignal) String() string {
	return fmt.Sprintf("reset %s", r.Core)
}

// CatchReset runs fn and reports the reset it unwound with, if any. Any
// other panic is propagated.
func CatchReset(fn func()) (sig *ResetSignal) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		rs, ok := r.(ResetSignal)
		if !ok {
			panic(r)
		}
		sig = &rs
	}()
	fn()
	return nil
}

// Processors models the local control state of every core: its interrupt
// mask and its idle wait.
type Processors struct {
	power *PowerController

	mu     sync.Mutex
	irqOff [core.ClusterCount][core.CoresPerCluster]bool
	wake   [core.ClusterCount][core.CoresPerCluster]chan struct{}
	wfis   [core.ClusterCount][core.CoresPerCluster]int
}

// NewProcessors wires wake-ups to power-on edges of the controller.
func NewProcessors(power *PowerController) *Processors {
	p := &Processors{power: power}
	for i := range p.wake {
		for j := range p.wake[i] {
			p.wake[i][j] = make(chan struct{}, 1)
		}
	}
	power.OnEdge(func(id core.CoreID, on bool) {
		if on {
			p.Kick(id)
		}
	})
	return p
}

func mustSelf(ctx context.Context) core.CoreID {
	id, ok := platform.Self(ctx)
	if !ok {
		panic("hw: processor access without cpu identity")
	}
	return id
}

// DisableIRQ is a no-op for a context with no executing core.
func (p *Processors) DisableIRQ(ctx context.Context) func() {
	id, ok := platform.Self(ctx)
	if !ok {
		return func() {}
	}
	p.mu.Lock()
	prev := p.irqOff[id.Cluster][id.Core]
	p.irqOff[id.Cluster][id.Core] = true
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.irqOff[id.Cluster][id.Core] = prev
		p.mu.Unlock()
	}
}

// EnableIRQ unmasks local interrupts, as the entry path does after reset.
func (p *Processors) EnableIRQ(ctx context.Context) {
	id := mustSelf(ctx)
	p.mu.Lock()
	p.irqOff[id.Cluster][id.Core] = false
	p.mu.Unlock()
}

func (p *Processors) IRQsDisabled(ctx context.Context) bool {
	id, ok := platform.Self(ctx)
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.irqOff[id.Cluster][id.Core]
}

// WaitForInterrupt returns at once while the core is still powered, as a
// pending wake event would. Otherwise it parks until power returns or ctx
// is done.
func (p *Processors) WaitForInterrupt(ctx context.Context) {
	id := mustSelf(ctx)
	p.mu.Lock()
	p.wfis[id.Cluster][id.Core]++
	wake := p.wake[id.Cluster][id.Core]
	p.mu.Unlock()

	for !p.power.Powered(id) {
		select {
		case <-wake:
		case <-ctx.Done():
			return
		}
	}
}

// Reset unwinds the calling core with a ResetSignal.
func (p *Processors) Reset(ctx context.Context) {
	panic(ResetSignal{Core: mustSelf(ctx)})
}

// Kick delivers a wake event to id.
func (p *Processors) Kick(id core.CoreID) {
	select {
	case p.wake[id.Cluster][id.Core] <- struct{}{}:
	default:
	}
}

// WFICount counts idle waits entered by id.
func (p *Processors) WFICount(id core.CoreID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wfis[id.Cluster][id.Core]
}
