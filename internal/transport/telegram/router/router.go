package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"confbot/internal/runtime/supervisor"
	kit "confbot/internal/transport"
	logx "confbot/pkg/logx"
	"confbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline-button data of the form "scope:action[:payload]".
type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update kit.Update
	// Chat is where replies go. Group messages are answered privately.
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	Payload      string
	ReqID        string

	Adapter kit.Adapter
	Logger  logx.Logger

	answer string
}

// Reply sends an HTML message to the request's chat.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if opt.ParseMode == "" {
		opt.ParseMode = "HTML"
	}
	opt.DisablePreview = true
	return r.Adapter.SendText(ctx, r.Chat, text, opt)
}

// Toast sets the text shown when a callback is answered.
func (r *Request) Toast(text string) { r.answer = text }

// Message returns the incoming message, nil for callbacks.
func (r *Request) Message() *kit.Message { return r.Update.Message }

// Options configures a Router. Every field is optional except Adapter.
type Options struct {
	Adapter kit.Adapter
	Users   Users
	Dialog  Dialog
	Owners  []int64
	Workers int
	Log     logx.Logger
}

type Router struct {
	mu       sync.RWMutex
	commands map[string]*Command
	alias    map[string]*Command
	order    []string

	cbMu      sync.RWMutex
	callbacks map[string]map[string]CallbackRoute // scope -> action -> route

	owners []int64

	log     logx.Logger
	adapter kit.Adapter
	users   Users
	dialog  Dialog

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	shards []chan func()
}

func New(opt Options) *Router {
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := opt.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers < 2 {
		workers = 2
	}
	shards := make([]chan func(), workers)
	for i := range shards {
		shards[i] = make(chan func(), 64)
	}
	return &Router{
		commands:  map[string]*Command{},
		alias:     map[string]*Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		owners:    append([]int64(nil), opt.Owners...),
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   opt.Adapter,
		users:     opt.Users,
		dialog:    opt.Dialog,
		shards:    shards,
	}
}

// SetOwners updates the configured owner list. Safe during hot reload.
func (m *Router) SetOwners(owners []int64) {
	ownCopy := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = ownCopy
	m.mu.Unlock()
}

func (m *Router) ownersSnapshot() []int64 {
	m.mu.RLock()
	cp := append([]int64(nil), m.owners...)
	m.mu.RUnlock()
	return cp
}

// SetRegistry replaces the command and callback tables. /help is always added.
func (m *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Name:        "help",
		Description: "list the available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			admin := m.isAdmin(ctx, req.FromID)
			_, err := req.Reply(ctx, m.helpText(req.Args, admin), nil)
			return err
		},
	})

	commands := map[string]*Command{}
	alias := map[string]*Command{}
	order := make([]string, 0, len(cmds))
	for i := range cmds {
		c := cmds[i]
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		if _, dup := commands[name]; !dup {
			order = append(order, name)
		}
		commands[name] = &c
		for _, a := range c.Aliases {
			if sa := sanitizeTelegramCommand(a); sa != "" && sa != name {
				alias[sa] = &c
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		s := strings.TrimSpace(r.Scope)
		a := strings.TrimSpace(r.Action)
		if s == "" || a == "" || r.Handle == nil {
			continue
		}
		if cb[s] == nil {
			cb[s] = map[string]CallbackRoute{}
		}
		cb[s][a] = r
	}

	m.mu.Lock()
	m.commands = commands
	m.alias = alias
	m.order = order
	m.mu.Unlock()

	m.cbMu.Lock()
	m.callbacks = cb
	m.cbMu.Unlock()
}

func (m *Router) lookup(word string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.commands[word]; ok {
		return c, true
	}
	c, ok := m.alias[word]
	return c, ok
}

func (m *Router) snapshot() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Command, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, *m.commands[name])
	}
	return out
}

func (m *Router) setSupervisor(sup *supervisor.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// Supervisor returns the dispatcher's supervisor (nil if not running).
func (m *Router) Supervisor() *supervisor.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

// shard keeps every update of one chat on the same worker so a chat's
// messages are handled in arrival order.
func (m *Router) shard(chatID int64) chan func() {
	if chatID < 0 {
		chatID = -chatID
	}
	return m.shards[chatID%int64(len(m.shards))]
}

// tryEnqueue is panic-safe against a closed shard.
func (m *Router) tryEnqueue(chatID int64, fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.shard(chatID) <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes updates until ctx is done or updates is closed.
func (m *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(m.log),
		supervisor.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", len(m.shards)))

	for i, ch := range m.shards {
		idx, jobs := i, ch
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildTelegramMenuCommands(m.snapshot())
		sup.Go("telegram.menu.update", func(c context.Context) error {
			uctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(uctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
			return nil
		})
	}

	defer func() {
		m.setSupervisor(sup, false)
		for _, ch := range m.shards {
			close(ch)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *Router) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up)
	}
}

func (m *Router) newRequest(up kit.Update, chat kit.ChatTarget, fromID int64, username, command string) *Request {
	rid := uuid.NewString()[:8]
	return &Request{
		Update:       up,
		Chat:         chat,
		FromID:       fromID,
		FromUsername: username,
		Command:      command,
		ReqID:        rid,
		Adapter:      m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", fromID),
			logx.String("cmd", command),
		),
	}
}

// replyTarget answers group messages in the sender's private chat.
func replyTarget(msg *kit.Message) kit.ChatTarget {
	if msg.IsGroup {
		return kit.ChatTarget{ChatID: msg.FromID}
	}
	return kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
}

func (m *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil || msg.FromID == 0 {
		return
	}
	chat := replyTarget(msg)
	text := strings.TrimSpace(msg.Text)

	var (
		h       HandlerFunc
		timeout time.Duration
		req     *Request
	)
	if strings.HasPrefix(text, "/") {
		parts := tokenizeCommandLine(text)
		word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
		if i := strings.IndexByte(word, '@'); i >= 0 {
			word = word[:i]
		}
		req = m.newRequest(up, chat, msg.FromID, msg.FromUsername, word)
		req.Args = parts[1:]
		cmd, ok := m.lookup(word)
		if !ok {
			h = func(ctx context.Context, req *Request) error {
				_, err := req.Reply(ctx, tgui.Esc("Unknown command. Try /help").String(), nil)
				return err
			}
		} else {
			h = Chain(cmd.Handle, m.mwAccess(cmd.Access))
			timeout = cmd.Timeout
		}
	} else {
		if m.dialog == nil || text == "" {
			return
		}
		req = m.newRequest(up, chat, msg.FromID, msg.FromUsername, "dialog")
		h = m.dialogText
	}

	final := Chain(h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
		m.mwRegister(),
	)
	if !m.tryEnqueue(chat.ChatID, func() { _ = final(ctx, req) }) {
		m.log.Warn("command queue full", logx.Int64("chat_id", chat.ChatID), logx.String("cmd", req.Command))
		_, _ = m.adapter.SendText(ctx, chat, "busy, try again", nil)
	}
}

func (m *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	scope, action, payload, err := tgui.ParseData(cb.Data)
	if err != nil {
		m.log.Debug("malformed callback data", logx.String("data", cb.Data), logx.Err(err))
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	m.cbMu.RLock()
	route, ok := m.callbacks[scope][action]
	m.cbMu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	req := m.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, "", "cb:"+scope+":"+action)
	req.Payload = payload
	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }

	final := Chain(h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(route.Timeout),
		m.mwAccess(route.Access),
	)
	if !m.tryEnqueue(cb.ChatID, func() {
		_ = final(ctx, req)
		_ = m.adapter.AnswerCallback(ctx, cb.ID, req.answer)
	}) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "busy")
	}
}

// dialogText feeds plain text to an active editing dialog. Text outside a
// dialog is ignored.
func (m *Router) dialogText(ctx context.Context, req *Request) error {
	handled, err := m.dialog.Handle(ctx, req.Chat.ChatID, req.FromID, textEvent(req.Message().Text))
	if !handled && err == nil {
		req.Logger.Debug("text outside dialog ignored")
	}
	return err
}

// isAdmin reports whether id is a configured owner or carries the admin flag.
func (m *Router) isAdmin(ctx context.Context, id int64) bool {
	for _, o := range m.ownersSnapshot() {
		if o == id {
			return true
		}
	}
	if m.users == nil {
		return false
	}
	ok, err := m.users.IsAdmin(ctx, id)
	if err != nil {
		m.log.Warn("admin lookup failed", logx.Int64("user_id", id), logx.Err(err))
		return false
	}
	return ok
}
