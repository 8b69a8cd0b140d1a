package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotificationSettingTriState(t *testing.T) {
	st := openMemory(t)
	ctx := context.Background()

	v, err := st.GetNotificationSetting(ctx, 5)
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, st.RegisterUser(ctx, 5, "alice"))
	v, err = st.GetNotificationSetting(ctx, 5)
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, st.SaveNotificationSetting(ctx, 5, false))
	v, err = st.GetNotificationSetting(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, v)
	require.False(t, *v)

	require.NoError(t, st.SaveNotificationSetting(ctx, 5, true))
	v, err = st.GetNotificationSetting(ctx, 5)
	require.NoError(t, err)
	require.True(t, *v)
}

func TestAdminFlags(t *testing.T) {
	st := openMemory(t)
	ctx := context.Background()

	ok, err := st.IsAdmin(ctx, 9)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.SetAdmin(ctx, 9, true))
	ok, err = st.IsAdmin(ctx, 9)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, st.RegisterUser(ctx, 10, "Carol"))
	found, err := st.SetAdminByUsername(ctx, "@carol", true)
	require.NoError(t, err)
	require.True(t, found)
	ok, err = st.IsAdmin(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)

	found, err = st.SetAdminByUsername(ctx, "nobody", true)
	require.NoError(t, err)
	require.False(t, found)

	// Registering again keeps flags.
	require.NoError(t, st.RegisterUser(ctx, 10, "carol_new"))
	ok, err = st.IsAdmin(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSessionsRoundTrip(t *testing.T) {
	st := openMemory(t)
	ctx := context.Background()

	_, ok, err := st.LoadSession(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.SaveSession(ctx, 1, []byte(`{"state":"editing"}`)))
	require.NoError(t, st.SaveSession(ctx, 1, []byte(`{"state":"choose_day"}`)))
	b, ok, err := st.LoadSession(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"state":"choose_day"}`, string(b))

	require.NoError(t, st.DeleteSession(ctx, 1))
	_, ok, err = st.LoadSession(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAppendAudit(t *testing.T) {
	st := openMemory(t)
	require.NoError(t, st.AppendAudit(context.Background(), AuditEntry{ActorID: 1, Action: "edit_schedule", Target: "upload.csv", OK: true}))
	var n int
	require.NoError(t, st.DB().QueryRow(`SELECT COUNT(*) FROM audit`).Scan(&n))
	require.Equal(t, 1, n)
}
