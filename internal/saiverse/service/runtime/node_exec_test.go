package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mementity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
	memrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/repo"
	pbentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
)

func routerFlowTo(name string) *pbentity.Playbook {
	return &pbentity.Playbook{
		Name:                "router_flow",
		StartNode:           "pick",
		ContextRequirements: noContext(),
		Nodes: []*pbentity.Node{
			{ID: "pick", Type: pbentity.NodeSet, Assignments: map[string]any{
				"selected_playbook": name,
			}, Next: "run"},
			{ID: "run", Type: pbentity.NodeExec},
		},
	}
}

func TestExecRunsSelectedPlaybook(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.playbooks.Save(ctx, &pbentity.Playbook{
		Name:                "weather_report",
		StartNode:           "speak",
		ContextRequirements: noContext(),
		Nodes: []*pbentity.Node{
			{ID: "speak", Type: pbentity.NodeSay, Action: "晴れです"},
		},
	}))

	result, err := f.run(t, routerFlowTo("weather_report"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"晴れです"}, result.Outputs)
	assert.Equal(t, false, result.State[KeyExecError])
}

func TestExecPermissionDenialRecord(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.playbooks.Save(ctx, &pbentity.Playbook{
		Name:                "secret_task",
		StartNode:           "noop",
		ContextRequirements: noContext(),
		Nodes:               []*pbentity.Node{{ID: "noop", Type: pbentity.NodePass}},
	}))
	require.NoError(t, f.permissions.Set(ctx, &pbentity.Permission{
		PlaybookName: "secret_task",
		Level:        pbentity.PermissionUserOnly,
	}))

	result, err := f.run(t, routerFlowTo("secret_task"), nil)
	require.NoError(t, err)

	// Denial takes the success edge: the denial text becomes the reply.
	denial := "(プレイブック「secret_task」はユーザーの明示的な指示でのみ実行できます)"
	assert.Equal(t, denial, result.State[KeyLast])
	assert.Equal(t, false, result.State[KeyExecError])
	assert.Empty(t, result.Outputs)

	// The denial lands in memory as a system message tagged with the
	// refused playbook.
	store, err := f.memory.Manager().ForPersona(ctx, "p1")
	require.NoError(t, err)
	thread, err := store.ActiveThread(ctx)
	require.NoError(t, err)
	msgs, err := store.Recent(ctx, memrepo.RecentQuery{ThreadID: thread.ID})
	require.NoError(t, err)

	var rec *mementity.Message
	for _, m := range msgs {
		if m.Content == denial {
			rec = m
		}
	}
	require.NotNil(t, rec, "denial not recorded in memory")
	assert.Equal(t, mementity.RoleSystem, rec.Role)
	assert.True(t, rec.Metadata.HasTag("error"))
	assert.True(t, rec.Metadata.HasTag("exec"))
	assert.True(t, rec.Metadata.HasTag("secret_task"))
}

func TestExecFailureRoutesErrorNext(t *testing.T) {
	f := newRunnerFixture(t)

	pb := &pbentity.Playbook{
		Name:                "router_flow",
		StartNode:           "pick",
		ContextRequirements: noContext(),
		Nodes: []*pbentity.Node{
			{ID: "pick", Type: pbentity.NodeSet, Assignments: map[string]any{
				"selected_playbook": "no_such_playbook",
			}, Next: "run"},
			{ID: "run", Type: pbentity.NodeExec, ErrorNext: "apologize"},
			{ID: "apologize", Type: pbentity.NodeSay, Action: "見つかりませんでした"},
		},
	}

	result, err := f.run(t, pb, nil)
	require.NoError(t, err)
	assert.Equal(t, true, result.State[KeyExecError])
	assert.Equal(t, []string{"見つかりませんでした"}, result.Outputs)
}
