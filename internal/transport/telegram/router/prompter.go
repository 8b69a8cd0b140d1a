package router

import (
	"context"

	"confbot/internal/dialog"
	kit "confbot/internal/transport"
	"confbot/internal/view"
)

// Prompter sends dialog prompts through the chat adapter.
type Prompter struct {
	Adapter kit.Adapter
}

func (p Prompter) Prompt(ctx context.Context, chatID int64, pr dialog.Prompt) error {
	_, err := p.Adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, pr.Text, &kit.SendOptions{
		ParseMode:      view.ParseMode,
		DisablePreview: true,
		Keyboard:       pr.Keyboard,
		RemoveKeyboard: pr.RemoveKeyboard,
	})
	return err
}
