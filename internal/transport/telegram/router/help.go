package router

import (
	"html"
	"strings"
)

// helpText renders help in HTML parse mode. Admin-only commands are listed
// only for admins.
func (m *Router) helpText(args []string, admin bool) string {
	if len(args) > 0 {
		word := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(args[0]), "/"))
		c, ok := m.lookup(sanitizeTelegramCommand(word))
		if !ok || (c.Access == AccessAdmin && !admin) {
			return strings.Join([]string{
				"❓ <b>Unknown command</b>",
				"Type <code>/help</code> to see the list of commands.",
			}, "\n")
		}
		return m.helpCommandHTML(*c)
	}

	lines := []string{
		"📚 <b>Commands</b>",
		"Type <code>/help &lt;cmd&gt;</code> for details.",
		"",
	}
	var locked []string
	for _, c := range m.snapshot() {
		line := "• <code>/" + html.EscapeString(c.Name) + "</code>"
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		if c.Access == AccessAdmin {
			if admin {
				locked = append(locked, "• 🔒"+strings.TrimPrefix(line, "•"))
			}
			continue
		}
		lines = append(lines, line)
	}
	lines = append(lines, locked...)
	return strings.Join(filterEmpty(lines), "\n")
}

func (m *Router) helpCommandHTML(c Command) string {
	lines := []string{"📚 <b>Help</b> <code>/" + html.EscapeString(c.Name) + "</code>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if c.Access == AccessAdmin {
		lines = append(lines, "🔒 <i>Administrators only</i>")
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
	}
	if len(c.Aliases) > 0 {
		lines = append(lines, "", "<b>Aliases</b>")
		for _, a := range c.Aliases {
			lines = append(lines, "• <code>/"+html.EscapeString(a)+"</code>")
		}
	}
	return strings.Join(filterEmpty(lines), "\n")
}

func filterEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
