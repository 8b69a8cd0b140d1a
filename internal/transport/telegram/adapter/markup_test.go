package adapter

import (
	"testing"

	kit "confbot/internal/transport"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func TestMarkup(t *testing.T) {
	require.Nil(t, markup(&kit.SendOptions{}))

	rm := markup(&kit.SendOptions{RemoveKeyboard: true})
	require.True(t, rm.RemoveKeyboard)

	rm = markup(&kit.SendOptions{Keyboard: []string{"A", "Nothing"}})
	require.True(t, rm.OneTimeKeyboard)
	require.Len(t, rm.ReplyKeyboard, 2)
	require.Equal(t, "Nothing", rm.ReplyKeyboard[1][0].Text)

	rm = markup(&kit.SendOptions{Inline: [][]kit.Button{{{Text: "On", Data: "settings:notify:on"}, {Text: "Off", Data: "settings:notify:off"}}}})
	require.Len(t, rm.InlineKeyboard, 1)
	require.Equal(t, "settings:notify:off", rm.InlineKeyboard[0][1].Data)
}

func TestToMessage(t *testing.T) {
	m := toMessage(&tele.Message{
		ID:       5,
		Chat:     &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		Sender:   &tele.User{ID: 42, Username: "alice"},
		Caption:  "/edit_schedule",
		Document: &tele.Document{File: tele.File{FileID: "f1", FileSize: 12}, FileName: "schedule.csv"},
	})
	require.NotNil(t, m)
	require.True(t, m.IsGroup)
	require.Equal(t, "/edit_schedule", m.Text)
	require.Equal(t, &kit.Document{FileID: "f1", FileName: "schedule.csv", Size: 12}, m.Document)

	require.Nil(t, toMessage(&tele.Message{Chat: &tele.Chat{ID: 1}}))
}
