package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"confbot/internal/dialog"
	"confbot/internal/domain"
	"confbot/internal/importer"
	"confbot/internal/storage"
	kit "confbot/internal/transport"
	"confbot/internal/view"
	logx "confbot/pkg/logx"
	"confbot/pkg/tgui"
)

// Handlers implements the built-in bot commands.
type Handlers struct {
	Store     Store
	Dialog    Dialog
	Reconcile Reconciler
	Parser    Parser
	Jobs      JobLister
	Render    view.Renderer
	// EventLoc resolves "today" and "tomorrow" (UTC when nil).
	EventLoc  *time.Location
	Now       func() time.Time
	MaxUpload int64
}

func (h *Handlers) Commands() []Command {
	return []Command{
		{Name: "start", Description: "introduction", Handle: h.start},
		{Name: "schedule", Description: "show the conference timetable", Usage: "/schedule [all|today|tomorrow|N|DD.MM]", Handle: h.schedule},
		{Name: "my", Aliases: []string{"personal"}, Description: "show your personal itinerary", Usage: "/my [all|today|tomorrow|N|DD.MM]", Handle: h.personal},
		{Name: "configure", Description: "choose the talks you want to attend", Handle: h.configure},
		{Name: "cancel", Description: "stop editing your itinerary", Handle: h.cancel},
		{Name: "settings", Description: "reminder settings", Handle: h.settings},
		{Name: "admin", Description: "grant administrator rights", Usage: "/admin <id|username>", Access: AccessAdmin, Handle: h.grant(true)},
		{Name: "unadmin", Description: "revoke administrator rights", Usage: "/unadmin <id|username>", Access: AccessAdmin, Handle: h.grant(false)},
		{Name: "edit_schedule", Description: "apply a CSV schedule edit", Usage: "/edit_schedule as the caption of a .csv file, or as a reply to one", Access: AccessAdmin, Timeout: 2 * time.Minute, Handle: h.editSchedule},
		{Name: "jobs", Description: "list scheduled reminders", Access: AccessAdmin, Handle: h.jobs},
	}
}

func (h *Handlers) Callbacks() []CallbackRoute {
	return []CallbackRoute{
		{Scope: "schedule", Action: "show", Handle: h.scheduleCallback},
		{Scope: "my", Action: "show", Handle: h.personalCallback},
		{Scope: "settings", Action: "set", Handle: h.settingsCallback},
	}
}

func (h *Handlers) start(ctx context.Context, req *Request) error {
	text := tgui.JoinH("\n",
		tgui.B("Hi!"),
		tgui.Esc("I keep track of the talks you want to attend and remind you before they start."),
		tgui.Esc("Use /configure to pick your talks, /my to see them and /schedule for the full timetable."),
	)
	_, err := req.Reply(ctx, text.String(), nil)
	return err
}

var errBadDay = errors.New("unknown day")

// dayButtons offers the whole schedule, today or tomorrow.
func dayButtons(scope string) [][]kit.Button {
	row := make([]kit.Button, 0, 3)
	for _, b := range []struct{ text, payload string }{{"All", "all"}, {"Today", "today"}, {"Tomorrow", "tomorrow"}} {
		data, err := tgui.Data(scope, "show", b.payload)
		if err != nil {
			continue
		}
		row = append(row, kit.Button{Text: b.text, Data: data})
	}
	return [][]kit.Button{row}
}

// resolveDay maps a day argument to an event-calendar date. The empty date
// means every day.
func (h *Handlers) resolveDay(ctx context.Context, arg string) (string, error) {
	arg = strings.ToLower(strings.TrimSpace(arg))
	loc := h.EventLoc
	if loc == nil {
		loc = time.UTC
	}
	now := nowFunc(h.Now)().In(loc)
	switch arg {
	case "", "all":
		return "", nil
	case "today":
		return now.Format(domain.DateLayout), nil
	case "tomorrow":
		return now.AddDate(0, 0, 1).Format(domain.DateLayout), nil
	}
	if _, err := time.Parse(domain.DateLayout, arg); err == nil {
		return arg, nil
	}
	dates, err := h.Store.GetAllDates(ctx)
	if err != nil {
		return "", err
	}
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(dates) {
			return "", errBadDay
		}
		return dates[n-1], nil
	}
	for _, d := range dates {
		if view.Day(d) == arg {
			return d, nil
		}
	}
	return "", errBadDay
}

func (h *Handlers) schedule(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		_, err := req.Reply(ctx, tgui.Esc("Which part of the schedule?").String(), &kit.SendOptions{Inline: dayButtons("schedule")})
		return err
	}
	return h.showSchedule(ctx, req, req.Args[0])
}

func (h *Handlers) scheduleCallback(ctx context.Context, req *Request, payload string) error {
	return h.showSchedule(ctx, req, payload)
}

func (h *Handlers) showSchedule(ctx context.Context, req *Request, arg string) error {
	date, err := h.resolveDay(ctx, arg)
	if errors.Is(err, errBadDay) {
		_, err = req.Reply(ctx, tgui.Esc("Unknown day. "+view.DateHint).String(), nil)
		return err
	}
	if err != nil {
		return err
	}
	talks, err := h.Store.GetAllSpeeches(ctx, date)
	if err != nil {
		return err
	}
	_, err = req.Reply(ctx, withHeader(date, h.Render.Timetable(talks, date == "")), nil)
	return err
}

func (h *Handlers) personal(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		_, err := req.Reply(ctx, tgui.Esc("Which part of your itinerary?").String(), &kit.SendOptions{Inline: dayButtons("my")})
		return err
	}
	return h.showPersonal(ctx, req, req.Args[0])
}

func (h *Handlers) personalCallback(ctx context.Context, req *Request, payload string) error {
	return h.showPersonal(ctx, req, payload)
}

func (h *Handlers) showPersonal(ctx context.Context, req *Request, arg string) error {
	date, err := h.resolveDay(ctx, arg)
	if errors.Is(err, errBadDay) {
		_, err = req.Reply(ctx, tgui.Esc("Unknown day. "+view.DateHint).String(), nil)
		return err
	}
	if err != nil {
		return err
	}
	talks, err := h.Store.GetSelectedSpeeches(ctx, req.FromID, date)
	if err != nil {
		return err
	}
	_, err = req.Reply(ctx, h.Render.Personal(talks), nil)
	return err
}

func withHeader(date, body string) string {
	if date == "" {
		return body
	}
	return tgui.B(view.Day(date)).String() + "\n" + body
}

func (h *Handlers) configure(ctx context.Context, req *Request) error {
	_, err := h.Dialog.Handle(ctx, req.Chat.ChatID, req.FromID, dialog.Begin{})
	return err
}

func (h *Handlers) cancel(ctx context.Context, req *Request) error {
	active, err := h.Dialog.Active(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if !active {
		_, err = req.Reply(ctx, tgui.Esc("Nothing to cancel.").String(), &kit.SendOptions{RemoveKeyboard: true})
		return err
	}
	_, err = h.Dialog.Handle(ctx, req.Chat.ChatID, req.FromID, dialog.Cancel{})
	return err
}

func settingsButtons() [][]kit.Button {
	on, _ := tgui.Data("settings", "set", "on")
	off, _ := tgui.Data("settings", "set", "off")
	return [][]kit.Button{
		{{Text: "🔔 Reminders on", Data: on}},
		{{Text: "🔕 Reminders off", Data: off}},
	}
}

// notificationsEnabled treats a missing preference as enabled.
func (h *Handlers) notificationsEnabled(ctx context.Context, userID int64) (bool, error) {
	v, err := h.Store.GetNotificationSetting(ctx, userID)
	if err != nil {
		return false, err
	}
	return v == nil || *v, nil
}

func (h *Handlers) settings(ctx context.Context, req *Request) error {
	enabled, err := h.notificationsEnabled(ctx, req.FromID)
	if err != nil {
		return err
	}
	_, err = req.Reply(ctx, h.Render.Settings(enabled), &kit.SendOptions{Inline: settingsButtons()})
	return err
}

func (h *Handlers) settingsCallback(ctx context.Context, req *Request, payload string) error {
	var enabled bool
	switch payload {
	case "on":
		enabled = true
	case "off":
	default:
		req.Toast("unknown option")
		return nil
	}
	if err := h.Store.SaveNotificationSetting(ctx, req.FromID, enabled); err != nil {
		req.Toast("failed")
		return err
	}
	req.Toast("Saved")
	cb := req.Update.Callback
	return req.Adapter.EditText(ctx,
		kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID},
		h.Render.Settings(enabled),
		&kit.SendOptions{ParseMode: view.ParseMode, Inline: settingsButtons()},
	)
}

func (h *Handlers) grant(admin bool) HandlerFunc {
	action := "unadmin"
	if admin {
		action = "admin"
	}
	return func(ctx context.Context, req *Request) error {
		if len(req.Args) != 1 {
			_, err := req.Reply(ctx, tgui.Esc("Format: /"+action+" <ID|username>").String(), nil)
			return err
		}
		target := req.Args[0]
		var (
			found = true
			err   error
		)
		if id, perr := strconv.ParseInt(target, 10, 64); perr == nil {
			err = h.Store.SetAdmin(ctx, id, admin)
		} else {
			found, err = h.Store.SetAdminByUsername(ctx, target, admin)
		}
		h.audit(ctx, req, action, target, err, nil)
		if err != nil {
			return err
		}
		if !found {
			_, err = req.Reply(ctx, tgui.Esc("User "+target+" not found. They have to message the bot first.").String(), nil)
			return err
		}
		req.Logger.Info("admin flag changed", logx.String("target", target), logx.Bool("admin", admin))
		text := "User " + target + " is now an administrator."
		if !admin {
			text = "User " + target + " is no longer an administrator."
		}
		_, err = req.Reply(ctx, tgui.Esc(text).String(), nil)
		return err
	}
}

// uploadedDocument finds the edit file on the message or on the message it replies to.
func uploadedDocument(msg *kit.Message) *kit.Document {
	if msg == nil {
		return nil
	}
	if msg.Document != nil {
		return msg.Document
	}
	if msg.ReplyTo != nil {
		return msg.ReplyTo.Document
	}
	return nil
}

func isCSV(doc *kit.Document) bool {
	if strings.EqualFold(path.Ext(doc.FileName), ".csv") {
		return true
	}
	return strings.HasPrefix(doc.MIMEType, "text/csv")
}

func (h *Handlers) editSchedule(ctx context.Context, req *Request) error {
	doc := uploadedDocument(req.Message())
	if doc == nil || !isCSV(doc) {
		_, err := req.Reply(ctx, tgui.Esc("Attach a .csv file with /edit_schedule as the caption, or reply to one.").String(), nil)
		return err
	}
	limit := h.MaxUpload
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	if doc.Size > limit {
		_, err := req.Reply(ctx, tgui.Esc(fmt.Sprintf("The file is too large (limit %d bytes).", limit)).String(), nil)
		return err
	}

	rc, err := req.Adapter.Download(ctx, *doc)
	if err != nil {
		h.audit(ctx, req, "edit_schedule", doc.FileName, err, nil)
		return fmt.Errorf("download %s: %w", doc.FileName, err)
	}
	edits, err := h.Parser.Parse(io.LimitReader(rc, limit))
	_ = rc.Close()
	if err != nil {
		h.audit(ctx, req, "edit_schedule", doc.FileName, err, nil)
		_, rerr := req.Reply(ctx, tgui.JoinH("\n", tgui.B("The file was rejected."), tgui.Esc(err.Error())).String(), nil)
		return rerr
	}

	out, err := h.Reconcile.Apply(ctx, "upload:"+doc.FileName, edits)
	meta := map[string]int{
		"rows":     len(edits),
		"slots":    len(out.Slots),
		"deleted":  out.Deleted,
		"inserted": out.Stats.Inserted,
		"updated":  out.Stats.Updated,
		"notified": out.Recipients,
	}
	h.audit(ctx, req, "edit_schedule", doc.FileName, err, meta)

	switch {
	case err != nil && out.Slots == nil:
		var ie *domain.IntegrityError
		if errors.As(err, &ie) {
			_, rerr := req.Reply(ctx, tgui.JoinH("\n", tgui.B("The schedule was not changed."), tgui.Esc(ie.Error())).String(), nil)
			return rerr
		}
		return err
	case err != nil:
		req.Logger.Warn("schedule updated with follow-up errors", logx.Err(err))
		_, rerr := req.Reply(ctx, tgui.JoinH("\n", tgui.B("Schedule updated, but some follow-ups failed."), tgui.Esc(err.Error())).String(), nil)
		return rerr
	}
	_, err = req.Reply(ctx, tgui.Esc(fmt.Sprintf("Schedule updated: %d slots, %d added, %d changed, %d removed, %d attendees notified.",
		len(out.Slots), out.Stats.Inserted, out.Stats.Updated, out.Deleted, out.Recipients)).String(), nil)
	return err
}

func (h *Handlers) jobs(ctx context.Context, req *Request) error {
	jobs := h.Jobs.Jobs()
	if len(jobs) == 0 {
		_, err := req.Reply(ctx, tgui.Esc("No reminders scheduled.").String(), nil)
		return err
	}
	loc := h.Render.Location()
	lines := []tgui.H{tgui.B(fmt.Sprintf("Scheduled reminders (%d)", len(jobs)))}
	for _, j := range jobs {
		lines = append(lines, tgui.JoinH(" ",
			tgui.Raw("•"),
			tgui.Code(j.Name),
			tgui.Esc(string(j.Kind)),
			tgui.Esc(h.Render.SlotString(j.Slot, true)),
			tgui.Esc("at "+j.At.In(loc).Format("02.01 15:04")),
		))
	}
	_, err := req.Reply(ctx, tgui.JoinH("\n", lines...).String(), nil)
	return err
}

// audit records an operator action; failures are only logged.
func (h *Handlers) audit(ctx context.Context, req *Request, action, target string, err error, meta map[string]int) {
	e := storage.AuditEntry{
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		Action:        action,
		Target:        target,
		OK:            err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if meta != nil {
		if b, merr := json.Marshal(meta); merr == nil {
			e.MetaJSON = string(b)
		}
	}
	if aerr := h.Store.AppendAudit(ctx, e); aerr != nil {
		req.Logger.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}

var _ Parser = importer.Parser{}
