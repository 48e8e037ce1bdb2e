package executor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/iceos/core/execctx"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/node"
	"github.com/stretchr/testify/require"
)

func conditionNode(payload node.ConditionPayload) node.Spec {
	raw, _ := json.Marshal(payload)
	return node.Spec{ID: "n1", Kind: node.KindCondition, Payload: raw}
}

func TestConditionExecutor_TrueBranchSelectsThenNodes(t *testing.T) {
	e := &ConditionExecutor{}
	n := conditionNode(node.ConditionPayload{
		Expression: "input.score > 0.5",
		ThenNodes:  []ice.NodeID{"approve"},
		ElseNodes:  []ice.NodeID{"reject"},
	})

	ectx := execctx.New(ice.NewRunID(), map[string]any{"score": 0.9}, nil)
	out, err := e.Execute(context.Background(), n, ectx)

	require.NoError(t, err)
	require.Equal(t, true, out["result"])
	require.Equal(t, "true", out["branch"])
	require.Equal(t, []ice.NodeID{"approve"}, out["branch_nodes"])
}

func TestConditionExecutor_FalseBranchSelectsElseNodes(t *testing.T) {
	e := &ConditionExecutor{}
	n := conditionNode(node.ConditionPayload{
		Expression: "input.score > 0.5",
		ThenNodes:  []ice.NodeID{"approve"},
		ElseNodes:  []ice.NodeID{"reject"},
	})

	ectx := execctx.New(ice.NewRunID(), map[string]any{"score": 0.1}, nil)
	out, err := e.Execute(context.Background(), n, ectx)

	require.NoError(t, err)
	require.Equal(t, false, out["result"])
	require.Equal(t, "false", out["branch"])
	require.Equal(t, []ice.NodeID{"reject"}, out["branch_nodes"])
}

func TestConditionExecutor_CanReferencePriorNodeOutputs(t *testing.T) {
	e := &ConditionExecutor{}
	n := conditionNode(node.ConditionPayload{Expression: `nodes.classify.label == "spam"`})

	ectx := execctx.New(ice.NewRunID(), nil, nil)
	ectx.SetOutput("classify", map[string]any{"label": "spam"})

	out, err := e.Execute(context.Background(), n, ectx)
	require.NoError(t, err)
	require.Equal(t, true, out["result"])
}

func TestConditionExecutor_InvalidExpressionFailsValidation(t *testing.T) {
	e := &ConditionExecutor{}
	n := conditionNode(node.ConditionPayload{Expression: "not an expr((("})

	_, err := e.Execute(context.Background(), n, execctx.New(ice.NewRunID(), nil, nil))
	require.Equal(t, ice.KindValidation, ice.KindOf(err))
}
