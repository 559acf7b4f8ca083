package runtime

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cityentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/entity"
	cityinmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/store/inmemory"
	mementity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
	meminmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/store/inmemory"
	pbservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/service"
	pbinmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/store/inmemory"
	toolservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/service"
)

func testBuilder() *ContextBuilder {
	personas := cityinmemory.NewPersonaStore()
	buildings := cityinmemory.NewBuildingStore()
	library := pbservice.NewLibrary(pbinmemory.NewPlaybookStore())
	return NewContextBuilder(personas, buildings, meminmemory.NewManager(), library, toolservice.NewRegistry(), "")
}

func TestRealtimeMessageCarriesMarker(t *testing.T) {
	b := testBuilder()
	p := &cityentity.Persona{ID: "p1", Name: "灯"}

	history := []contextMessage{
		{msg: &schema.Message{Role: schema.Assistant, Content: "昨日は楽しかった"}, kind: kindHistory},
		{msg: &schema.Message{Role: schema.User, Content: "おはよう"}, kind: kindUser},
	}

	rt := b.buildRealtimeMessage(context.Background(), p, history)
	require.NotNil(t, rt.msg)
	assert.Equal(t, kindRealtime, rt.kind)
	assert.Equal(t, schema.User, rt.msg.Role)
	assert.Equal(t, true, rt.msg.Extra[mementity.MetaRealtimeContext])
	assert.Contains(t, rt.msg.Content, "現在時刻")
	assert.Contains(t, rt.msg.Content, "前回の発言: 昨日は楽しかった")
}

func TestInsertRealtimeBeforeLastUserMessage(t *testing.T) {
	rt := contextMessage{msg: &schema.Message{Role: schema.User, Content: "rt"}, kind: kindRealtime}
	built := []contextMessage{
		{msg: &schema.Message{Role: schema.System, Content: "sys"}, kind: kindSystem},
		{msg: &schema.Message{Role: schema.Assistant, Content: "a"}, kind: kindHistory},
		{msg: &schema.Message{Role: schema.User, Content: "question"}, kind: kindUser},
	}

	out := insertRealtime(built, rt)
	require.Len(t, out, 4)
	assert.Equal(t, kindRealtime, out[2].kind)
	assert.Equal(t, "question", out[3].msg.Content)
}
