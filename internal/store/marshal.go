package store

import (
	"fmt"

	"github.com/cordage-io/cordage/internal/model"
)

// Policy kinds as stored in connections.policy_kind.
const (
	policyKindData   = "data"
	policyKindBuffer = "buffer"
)

// marshalPolicy splits a derived policy into its column values. Unset
// policies never reach the journal: only applied connections are recorded.
func marshalPolicy(p model.Policy) (kind string, size int, reliable bool, err error) {
	switch p.Kind {
	case model.PolicyData:
		return policyKindData, 0, p.Reliable, nil
	case model.PolicyBuffer:
		return policyKindBuffer, p.Size, p.Reliable, nil
	default:
		return "", 0, false, fmt.Errorf("marshal policy: unset policy cannot be journaled")
	}
}

// unmarshalPolicy rebuilds a policy from its column values.
func unmarshalPolicy(kind string, size int, reliable bool) (model.Policy, error) {
	switch kind {
	case policyKindData:
		return model.Policy{Kind: model.PolicyData, Reliable: reliable}, nil
	case policyKindBuffer:
		return model.Policy{Kind: model.PolicyBuffer, Size: size, Reliable: reliable}, nil
	default:
		return model.Policy{}, fmt.Errorf("unmarshal policy: unknown kind %q", kind)
	}
}

// marshalDetail converts an event detail to canonical JSON TEXT. A nil
// detail stores as the empty object so the column is never NULL.
func marshalDetail(detail map[string]any) (string, error) {
	if detail == nil {
		return "{}", nil
	}
	data, err := model.CanonicalJSON(detail)
	if err != nil {
		return "", fmt.Errorf("marshal detail: %w", err)
	}
	return string(data), nil
}
