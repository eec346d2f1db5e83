package cluster

import (
	"fmt"
	"time"

	"github.com/r-heap47/eipmon/internal/models"
	pkgerrors "github.com/r-heap47/eipmon/internal/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// CloudPrivateIPConfig condition reasons
const (
	ReasonCloudResponseSuccess = "CloudResponseSuccess"
	ReasonCloudResponsePending = "CloudResponsePending"
	ReasonCloudResponseError   = "CloudResponseError"
)

// EgressIPFromUnstructured converts a raw EgressIP into a typed record.
// spec.egressIPs are the configured addresses, status.items are the assignments.
func EgressIPFromUnstructured(u *unstructured.Unstructured) (models.EgressIP, error) {
	name := u.GetName()
	if name == "" {
		return models.EgressIP{}, fmt.Errorf("%w: egressip without metadata.name", pkgerrors.ErrInvalidRecord)
	}

	configured, _, err := unstructured.NestedStringSlice(u.Object, "spec", "egressIPs")
	if err != nil {
		return models.EgressIP{}, fmt.Errorf("%w: egressip %s: spec.egressIPs: %w", pkgerrors.ErrInvalidRecord, name, err)
	}

	items, _, err := unstructured.NestedSlice(u.Object, "status", "items")
	if err != nil {
		return models.EgressIP{}, fmt.Errorf("%w: egressip %s: status.items: %w", pkgerrors.ErrInvalidRecord, name, err)
	}

	eip := models.EgressIP{
		Name:                name,
		ConfiguredAddresses: configured,
	}

	for i, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			return models.EgressIP{}, fmt.Errorf("%w: egressip %s: status.items[%d] is %T", pkgerrors.ErrInvalidRecord, name, i, raw)
		}

		node, _, _ := unstructured.NestedString(item, "node")
		addr, _, _ := unstructured.NestedString(item, "egressIP")
		if node == "" {
			// not placed yet
			continue
		}

		eip.Assignments = append(eip.Assignments, models.Assignment{Node: node, Address: addr})
	}

	return eip, nil
}

// CPICFromUnstructured converts a raw CloudPrivateIPConfig into a typed record.
// Status is taken from the latest entry of status.conditions.
func CPICFromUnstructured(u *unstructured.Unstructured) (models.CloudPrivateIPConfig, error) {
	name := u.GetName()
	if name == "" {
		return models.CloudPrivateIPConfig{}, fmt.Errorf("%w: cloudprivateipconfig without metadata.name", pkgerrors.ErrInvalidRecord)
	}

	node, _, _ := unstructured.NestedString(u.Object, "spec", "node")

	conditions, _, err := unstructured.NestedSlice(u.Object, "status", "conditions")
	if err != nil {
		return models.CloudPrivateIPConfig{}, fmt.Errorf("%w: cloudprivateipconfig %s: status.conditions: %w", pkgerrors.ErrInvalidRecord, name, err)
	}

	cpic := models.CloudPrivateIPConfig{
		Name:   name,
		Node:   node,
		Status: models.CPICPending,
	}
	if len(conditions) == 0 {
		return cpic, nil
	}

	latest, ok := conditions[len(conditions)-1].(map[string]any)
	if !ok {
		return models.CloudPrivateIPConfig{}, fmt.Errorf("%w: cloudprivateipconfig %s: malformed condition", pkgerrors.ErrInvalidRecord, name)
	}

	reason, _, _ := unstructured.NestedString(latest, "reason")
	status, _, _ := unstructured.NestedString(latest, "status")
	cpic.Status = cpicStatus(reason, status)

	if ts, _, _ := unstructured.NestedString(latest, "lastTransitionTime"); ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return models.CloudPrivateIPConfig{}, fmt.Errorf("%w: cloudprivateipconfig %s: lastTransitionTime: %w", pkgerrors.ErrInvalidRecord, name, err)
		}
		cpic.StatusChangedAt = &parsed
	}

	return cpic, nil
}

func cpicStatus(reason, status string) models.CPICStatus {
	switch reason {
	case ReasonCloudResponseSuccess:
		return models.CPICSuccess
	case ReasonCloudResponsePending:
		return models.CPICPending
	case ReasonCloudResponseError:
		return models.CPICError
	}

	switch status {
	case string(corev1.ConditionTrue):
		return models.CPICSuccess
	case string(corev1.ConditionFalse):
		return models.CPICError
	default:
		return models.CPICPending
	}
}

// NodeFromCore converts a core node. Capacity is resolved later from the capacity policy
func NodeFromCore(n *corev1.Node) models.Node {
	return models.Node{Name: n.Name}
}
