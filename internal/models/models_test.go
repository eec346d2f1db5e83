package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEgressIP_AssignedNode(t *testing.T) {
	t.Parallel()

	unassigned := EgressIP{Name: "eip-a", ConfiguredAddresses: []string{"10.0.0.10"}}
	assert.False(t, unassigned.IsAssigned())
	assert.Empty(t, unassigned.AssignedNode())

	assigned := EgressIP{
		Name:                "eip-b",
		ConfiguredAddresses: []string{"10.0.0.11", "10.0.0.12"},
		Assignments: []Assignment{
			{Node: "worker-1", Address: "10.0.0.11"},
			{Node: "worker-2", Address: "10.0.0.12"},
		},
	}
	assert.True(t, assigned.IsAssigned())
	assert.Equal(t, "worker-1", assigned.AssignedNode())
}

func TestAPIStats_CallCount(t *testing.T) {
	t.Parallel()

	assert.Zero(t, APIStats{}.CallCount())

	s := APIStats{Calls: map[CallStatus]uint64{
		CallSuccess: 7,
		CallError:   2,
		CallTimeout: 1,
	}}
	assert.Equal(t, uint64(10), s.CallCount())
}

func TestEmpty(t *testing.T) {
	t.Parallel()

	s := Empty()

	assert.NotNil(t, s.PerNode)
	assert.NotNil(t, s.Durations)
	assert.NotNil(t, s.API)
	assert.Equal(t, s.Totals.Configured, s.Totals.Assigned+s.Totals.Unassigned)
	assert.True(t, s.Timestamp.IsZero())
}

func TestCapacityPolicy_For(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultNodeCapacity, CapacityPolicy{}.For("worker-1"))

	p := CapacityPolicy{Default: 75, Overrides: map[string]int{"worker-2": 10}}
	assert.Equal(t, 75, p.For("worker-1"))
	assert.Equal(t, 10, p.For("worker-2"))
}

func TestResources_NormalizeNodes(t *testing.T) {
	t.Parallel()

	res := Resources{
		EgressIPs: []EgressIP{
			{Name: "eip-a", Assignments: []Assignment{{Node: "worker-2", Address: "10.0.0.1"}}},
			{Name: "eip-b", Assignments: []Assignment{
				{Node: "worker-2", Address: "10.0.0.2"},
				{Node: "worker-9", Address: "10.0.0.3"},
			}},
			{Name: "eip-c"},
		},
		Nodes: []Node{
			{Name: "worker-2"},
			{Name: "worker-1", Capacity: 20},
		},
	}

	nodes := res.NormalizeNodes(CapacityPolicy{Default: 40})

	assert.Equal(t, []Node{
		{Name: "worker-1", Capacity: 20, AssignedCount: 0},
		{Name: "worker-2", Capacity: 40, AssignedCount: 2},
		{Name: "worker-9", Capacity: 40, AssignedCount: 1},
	}, nodes)
}
