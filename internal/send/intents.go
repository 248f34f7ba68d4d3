package send

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/overlay"
	"github.com/matheus3301/chatsync/internal/peer"
)

// EditMessage replaces the text of a message. The edit shows at once and is
// rolled back if the server refuses it.
func (p *Pipeline) EditMessage(ctx context.Context, mctx model.MessageContext, messageID, text string) error {
	if !p.engine.Contains(mctx, messageID) {
		return fmt.Errorf("edit %s: %w", messageID, ErrUnknownMessage)
	}
	content := model.Text(text)
	return overlay.Do(ctx,
		func() overlay.Op {
			return p.engine.PatchMessage(mctx, messageID, model.MessagePatch{Content: overlay.Some(content)})
		},
		func(ctx context.Context) error {
			return p.backend.EditMessage(ctx, mctx, messageID, content)
		})
}

// DeleteMessage marks a message deleted by the local user.
func (p *Pipeline) DeleteMessage(ctx context.Context, mctx model.MessageContext, messageID string) error {
	return p.setDeleted(ctx, mctx, messageID, true)
}

// UndeleteMessage reverts a deletion.
func (p *Pipeline) UndeleteMessage(ctx context.Context, mctx model.MessageContext, messageID string) error {
	return p.setDeleted(ctx, mctx, messageID, false)
}

func (p *Pipeline) setDeleted(ctx context.Context, mctx model.MessageContext, messageID string, deleted bool) error {
	if !p.engine.Contains(mctx, messageID) {
		return fmt.Errorf("delete %s: %w", messageID, ErrUnknownMessage)
	}
	patch := model.MessagePatch{Deleted: overlay.Some(deleted)}
	if deleted {
		patch.DeletedBy = p.engine.UserID()
	}
	err := overlay.Do(ctx,
		func() overlay.Op { return p.engine.PatchMessage(mctx, messageID, patch) },
		func(ctx context.Context) error {
			if deleted {
				return p.backend.DeleteMessage(ctx, mctx, messageID)
			}
			return p.backend.UndeleteMessage(ctx, mctx, messageID)
		})
	if err != nil {
		return err
	}
	p.broadcast(ctx, peer.Deleted(mctx, messageID, deleted))
	return nil
}

// ToggleReaction flips the local user's emoji on a message and reports
// whether it is now applied.
func (p *Pipeline) ToggleReaction(ctx context.Context, mctx model.MessageContext, messageID, emoji string) (bool, error) {
	msg, ok := p.engine.Message(mctx, messageID)
	if !ok {
		return false, fmt.Errorf("react %s: %w", messageID, ErrUnknownMessage)
	}
	user := p.engine.UserID()
	add := !msg.HasReaction(emoji, user)
	patch := model.MessagePatch{Reactions: []model.ReactionChange{{Emoji: emoji, User: user, Add: add}}}
	err := overlay.Do(ctx,
		func() overlay.Op { return p.engine.PatchMessage(mctx, messageID, patch) },
		func(ctx context.Context) error {
			return p.backend.ToggleReaction(ctx, mctx, messageID, emoji, add)
		})
	if err != nil {
		return !add, err
	}
	p.broadcast(ctx, peer.Reaction(mctx, messageID, emoji, add))
	return add, nil
}

// SetMuted mutes or unmutes a chat.
func (p *Pipeline) SetMuted(ctx context.Context, chat model.ChatID, muted bool) error {
	return p.settings(ctx, chat,
		model.SummaryPatch{Muted: overlay.Some(muted)},
		backend.ChatSettings{Muted: &muted})
}

// SetArchived archives or unarchives a chat.
func (p *Pipeline) SetArchived(ctx context.Context, chat model.ChatID, archived bool) error {
	return p.settings(ctx, chat,
		model.SummaryPatch{Archived: overlay.Some(archived)},
		backend.ChatSettings{Archived: &archived})
}

// SetPinned pins or unpins a chat.
func (p *Pipeline) SetPinned(ctx context.Context, chat model.ChatID, pinned bool) error {
	return p.settings(ctx, chat,
		model.SummaryPatch{Pinned: overlay.Some(pinned)},
		backend.ChatSettings{Pinned: &pinned})
}

func (p *Pipeline) settings(ctx context.Context, chat model.ChatID, patch model.SummaryPatch, s backend.ChatSettings) error {
	if _, ok := p.engine.Summary(chat); !ok {
		return fmt.Errorf("settings %s: %w", chat, ErrUnknownChat)
	}
	return overlay.Do(ctx,
		func() overlay.Op { return p.engine.PatchSummary(chat, patch) },
		func(ctx context.Context) error { return p.backend.UpdateChatSettings(ctx, chat, s) })
}
