package metrics

import (
	"time"

	"github.com/cuemby/attrd-core/pkg/attrd"
	"github.com/cuemby/attrd-core/pkg/executor"
	"github.com/cuemby/attrd-core/pkg/proxy"
	"github.com/cuemby/attrd-core/pkg/types"
)

// Collector periodically snapshots the three component engines into gauge
// metrics. The counters and histograms declared in metrics.go are registered
// and exported, but no component updates them.
type Collector struct {
	attrEngine *attrd.Engine
	actionEng  *executor.Engine
	mux        *proxy.Multiplexer

	stopCh chan struct{}
}

// NewCollector constructs a Collector over the given engines. Any may be
// nil to skip that component's gauges.
func NewCollector(attrEngine *attrd.Engine, actionEng *executor.Engine, mux *proxy.Multiplexer) *Collector {
	return &Collector{
		attrEngine: attrEngine,
		actionEng:  actionEng,
		mux:        mux,
		stopCh:     make(chan struct{}),
	}
}

// Start begins periodic collection.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts periodic collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectAttributes()
	c.collectActions()
	c.collectProxy()
}

func (c *Collector) collectAttributes() {
	if c.attrEngine == nil {
		return
	}
	counts := map[types.DampeningState]int{}
	for _, name := range c.attrEngine.Names() {
		entry, ok := c.attrEngine.Get(name)
		if !ok {
			continue
		}
		counts[entry.State()]++
	}
	for _, state := range []types.DampeningState{types.DampeningIdle, types.DampeningArmed, types.DampeningCommitting} {
		AttributesTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

func (c *Collector) collectActions() {
	if c.actionEng == nil {
		return
	}
	inFlight, blocked := c.actionEng.Snapshot()
	ActionsTotal.WithLabelValues(string(types.ActionInFlight)).Set(float64(len(inFlight)))
	ActionsTotal.WithLabelValues(string(types.ActionBlocked)).Set(float64(len(blocked)))
}

func (c *Collector) collectProxy() {
	if c.mux == nil {
		return
	}
	ProxySessionsActive.Set(float64(len(c.mux.SessionIDs())))
}
