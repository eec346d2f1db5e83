// Package models contains the typed cluster records and the published snapshot.
package models

import (
	"sort"
	"time"
)

// Assignment - placement of a single egress address on a node
type Assignment struct {
	Node    string
	Address string
}

// EgressIP - typed EgressIP resource
type EgressIP struct {
	Name                string
	ConfiguredAddresses []string
	Assignments         []Assignment
}

// AssignedNode returns the node holding the first assigned address, or "" when unassigned.
func (e EgressIP) AssignedNode() string {
	if len(e.Assignments) == 0 {
		return ""
	}

	return e.Assignments[0].Node
}

// IsAssigned reports whether at least one address of the EgressIP is placed on a node.
func (e EgressIP) IsAssigned() bool {
	return len(e.Assignments) > 0
}

// CPICStatus - lifecycle state of a CloudPrivateIPConfig
type CPICStatus string

const (
	// CPICPending - cloud assignment requested but not confirmed
	CPICPending CPICStatus = "pending"
	// CPICSuccess - address is assigned in the cloud
	CPICSuccess CPICStatus = "success"
	// CPICError - cloud reported a failure
	CPICError CPICStatus = "error"
)

// CloudPrivateIPConfig - typed CloudPrivateIPConfig resource
type CloudPrivateIPConfig struct {
	Name            string
	Status          CPICStatus
	Node            string
	StatusChangedAt *time.Time
}

// Node - egress-assignable node
type Node struct {
	Name          string
	Capacity      int
	AssignedCount int
}

// Resources - normalized output of one fetch
type Resources struct {
	EgressIPs []EgressIP
	CPICs     []CloudPrivateIPConfig
	Nodes     []Node
}

// EventKind - kind of history event
type EventKind string

const (
	EventEIPAssignment   EventKind = "eip_assignment"
	EventEIPUnassignment EventKind = "eip_unassignment"
	EventCPICTransition  EventKind = "cpic_transition"
	EventCPICRecovery    EventKind = "cpic_recovery"
	EventAPICall         EventKind = "api_call"
)

// CallStatus - outcome of an external call
type CallStatus string

const (
	// CallSuccess - call completed successfully
	CallSuccess CallStatus = "success"
	// CallError - server answered with a non-success status
	CallError CallStatus = "error"
	// CallTransport - request never got a server answer
	CallTransport CallStatus = "transport"
	// CallTimeout - call hit its deadline or was cancelled
	CallTimeout CallStatus = "timeout"
)

// DefaultNodeCapacity is the assumed number of egress addresses a node can host
const DefaultNodeCapacity = 50

// CapacityPolicy - per-node egress capacity
type CapacityPolicy struct {
	Default   int
	Overrides map[string]int
}

// For returns capacity of node
func (p CapacityPolicy) For(node string) int {
	if c, ok := p.Overrides[node]; ok {
		return c
	}
	if p.Default > 0 {
		return p.Default
	}

	return DefaultNodeCapacity
}

// NormalizeNodes returns the node set the per-node statistics are computed over:
// every fetched node plus every node referenced by an assignment, sorted by name.
// Unset capacities are taken from policy, AssignedCount is recounted from assignments.
func (r Resources) NormalizeNodes(policy CapacityPolicy) []Node {
	byName := make(map[string]Node, len(r.Nodes))
	for _, n := range r.Nodes {
		if n.Name == "" {
			continue
		}
		byName[n.Name] = Node{Name: n.Name, Capacity: n.Capacity}
	}

	for _, eip := range r.EgressIPs {
		for _, a := range eip.Assignments {
			if a.Node == "" {
				continue
			}
			n, ok := byName[a.Node]
			if !ok {
				n = Node{Name: a.Node}
			}
			n.AssignedCount++
			byName[a.Node] = n
		}
	}

	nodes := make([]Node, 0, len(byName))
	for _, n := range byName {
		if n.Capacity <= 0 {
			n.Capacity = policy.For(n.Name)
		}
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	return nodes
}
