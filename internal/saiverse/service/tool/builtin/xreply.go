package builtin

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/events"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/entity"
	toolsqlite "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/store/sqlite"
	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
)

const xModule = "tool.x"

// PostGateway sends the actual reply to the outside world.
type PostGateway interface {
	PostReply(ctx context.Context, tweetID, content string) (replyID string, err error)
}

// NopGateway accepts every post without sending anything. Used when no
// external integration is configured.
type NopGateway struct{}

func (NopGateway) PostReply(ctx context.Context, tweetID, content string) (string, error) {
	logger.InfoX(xModule, "dry-run reply to tweet %s (%d chars)", tweetID, len(content))
	return "dryrun-" + tweetID, nil
}

// ReplyTool posts a reply to an external tweet at most once per tweet
// id. The reply log's UNIQUE constraint arbitrates concurrent attempts;
// the loser gets an informational refusal instead of an error.
type ReplyTool struct {
	store   *toolsqlite.XReplyStore
	gateway PostGateway
}

func NewReplyTool(store *toolsqlite.XReplyStore, gateway PostGateway) *ReplyTool {
	if gateway == nil {
		gateway = NopGateway{}
	}
	return &ReplyTool{store: store, gateway: gateway}
}

func (t *ReplyTool) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "reply_to_tweet",
		Desc: "指定したツイートにリプライを投稿する(同じツイートへの二重リプライは拒否される)",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"tweet_id": {
				Desc:     "リプライ先のツイートID",
				Type:     schema.String,
				Required: true,
			},
			"content": {
				Desc:     "リプライ本文",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
}

func (t *ReplyTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	tweetID, _ := args["tweet_id"].(string)
	content, _ := args["content"].(string)
	if tweetID == "" {
		return nil, fmt.Errorf("tweet_id is required")
	}
	if content == "" {
		return nil, fmt.Errorf("content is required")
	}
	personaID := entity.ActivePersonaID(ctx)

	reservation, err := t.store.Reserve(ctx, tweetID, personaID)
	if err != nil {
		if errors.Is(err, errno.ErrAlreadyReplied) {
			return fmt.Sprintf("このツイート(ID: %s)には既にリプライ済みです。", tweetID), nil
		}
		return nil, err
	}

	replyID, err := t.gateway.PostReply(ctx, tweetID, content)
	if err != nil {
		if rerr := reservation.Release(); rerr != nil {
			logger.WarnX(xModule, "failed to release reply claim for %s: %v", tweetID, rerr)
		}
		return nil, fmt.Errorf("failed to post reply to %s: %w", tweetID, err)
	}
	if err := reservation.Confirm(ctx, replyID); err != nil {
		return nil, err
	}

	if cb := entity.EventCallback(ctx); cb != nil {
		cb.Emit(events.TweetConfirmation, map[string]any{
			"tweet_id":       tweetID,
			"reply_tweet_id": replyID,
			"persona_id":     personaID,
		})
	}
	return fmt.Sprintf("ツイート(ID: %s)にリプライしました。", tweetID), nil
}
