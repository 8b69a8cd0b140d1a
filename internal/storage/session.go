package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// LoadSession returns the serialized dialog state of a chat.
func (c conn) LoadSession(ctx context.Context, chatID int64) ([]byte, bool, error) {
	var state string
	err := c.queryRow(ctx, `SELECT state FROM dialog_sessions WHERE chat_id = ?`, chatID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("load session", err)
	}
	return []byte(state), true, nil
}

func (c conn) SaveSession(ctx context.Context, chatID int64, state []byte) error {
	_, err := c.exec(ctx,
		`INSERT INTO dialog_sessions(chat_id, state, updated_at) VALUES(?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		chatID, string(state), formatInstant(time.Now()),
	)
	return classify("save session", err)
}

func (c conn) DeleteSession(ctx context.Context, chatID int64) error {
	_, err := c.exec(ctx, `DELETE FROM dialog_sessions WHERE chat_id = ?`, chatID)
	return classify("delete session", err)
}
