package monitor

import (
	"time"

	"github.com/r-heap47/eipmon/internal/history"
	"github.com/r-heap47/eipmon/internal/models"
)

// tracker diffs consecutive successful cycles and turns the differences into history events.
// An observation only becomes the new baseline once committed.
type tracker struct {
	history *history.Store

	// egressip -> address -> node, as seen in the previous successful cycle
	prev   map[string]map[string]string
	primed bool
}

func newTracker(store *history.Store) *tracker {
	return &tracker{history: store}
}

// changes - events produced by a single observation
type changes struct {
	assignments   int
	unassignments int
	transitions   int
}

// observation - result of a single observe call, pending commit
type observation struct {
	changes
	baseline map[string]map[string]string
}

// commit makes obs the baseline of the next observation
func (t *tracker) commit(obs *observation) {
	t.prev = obs.baseline
	t.primed = true
}

func (t *tracker) observe(res models.Resources, now time.Time) *observation {
	var ch changes

	cur := make(map[string]map[string]string, len(res.EgressIPs))
	for _, eip := range res.EgressIPs {
		pairs := make(map[string]string, len(eip.Assignments))
		for _, a := range eip.Assignments {
			pairs[a.Address] = a.Node
		}
		cur[eip.Name] = pairs
	}

	if t.primed {
		for name, pairs := range cur {
			before := t.prev[name]
			for addr, node := range pairs {
				prevNode, ok := before[addr]
				switch {
				case !ok:
					ch.assignments++
				case prevNode != node:
					// moved to another node
					ch.unassignments++
					ch.assignments++
				}
			}
		}

		for name, pairs := range t.prev {
			after := cur[name]
			for addr := range pairs {
				if _, ok := after[addr]; !ok {
					ch.unassignments++
				}
			}
		}

		for range ch.assignments {
			t.history.RecordChange(models.EventEIPAssignment, now)
		}
		for range ch.unassignments {
			t.history.RecordChange(models.EventEIPUnassignment, now)
		}
	}

	keep := make(map[string]struct{}, len(res.CPICs))
	for _, c := range res.CPICs {
		keep[c.Name] = struct{}{}

		last, ok := t.history.LastStatus(c.Name)
		switch {
		case !ok && !t.primed:
			// existed before we started, only the api knows when it changed
			t.history.Seed(c.Name, c.Status, reportedAt(c, now, time.Time{}))
		case !ok:
			t.history.Seed(c.Name, c.Status, reportedAt(c, now, now))
		case last != c.Status:
			t.history.RecordTransition(c.Name, last, c.Status, reportedAt(c, now, now))
			ch.transitions++
		}
	}
	t.history.Forget(keep)

	return &observation{changes: ch, baseline: cur}
}

// reportedAt returns the transition time reported by the api, or fallback when
// it is absent or lies in the future
func reportedAt(c models.CloudPrivateIPConfig, now, fallback time.Time) time.Time {
	if c.StatusChangedAt == nil || c.StatusChangedAt.After(now) {
		return fallback
	}

	return *c.StatusChangedAt
}
