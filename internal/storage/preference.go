package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// RegisterUser records or refreshes the user's username.
func (c conn) RegisterUser(ctx context.Context, userID int64, username string) error {
	return c.upsertPreference(ctx, "register user", userID, "username", nullStr(username))
}

func (c conn) SaveNotificationSetting(ctx context.Context, userID int64, enabled bool) error {
	return c.upsertPreference(ctx, "save notification setting", userID, "notifications_enabled", enabled)
}

func (c conn) SetAdmin(ctx context.Context, userID int64, admin bool) error {
	return c.upsertPreference(ctx, "set admin", userID, "admin", admin)
}

// upsertPreference updates one column, inserting the row when the update
// touched nothing. column is always a compile-time constant.
func (c conn) upsertPreference(ctx context.Context, op string, userID int64, column string, value any) error {
	res, err := c.exec(ctx, `UPDATE preferences SET `+column+` = ? WHERE user_id = ?`, value, userID)
	if err != nil {
		return classify(op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = c.exec(ctx,
		`INSERT INTO preferences(user_id, `+column+`) VALUES(?,?)
		 ON CONFLICT(user_id) DO UPDATE SET `+column+` = excluded.`+column,
		userID, value,
	)
	return classify(op, err)
}

// SetAdminByUsername toggles the admin flag of a known user. It reports false
// when no user with that username has talked to the bot yet.
func (c conn) SetAdminByUsername(ctx context.Context, username string, admin bool) (bool, error) {
	name := strings.TrimPrefix(strings.TrimSpace(username), "@")
	if name == "" {
		return false, nil
	}
	res, err := c.exec(ctx, `UPDATE preferences SET admin = ? WHERE lower(username) = lower(?)`, admin, name)
	if err != nil {
		return false, classify("set admin by username", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c conn) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	var admin bool
	err := c.queryRow(ctx, `SELECT admin FROM preferences WHERE user_id = ?`, userID).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify("is admin", err)
	}
	return admin, nil
}

// GetNotificationSetting returns nil when the user never chose a setting.
func (c conn) GetNotificationSetting(ctx context.Context, userID int64) (*bool, error) {
	var v sql.NullBool
	err := c.queryRow(ctx, `SELECT notifications_enabled FROM preferences WHERE user_id = ?`, userID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get notification setting", err)
	}
	if !v.Valid {
		return nil, nil
	}
	b := v.Bool
	return &b, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
