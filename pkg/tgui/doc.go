// Package tgui holds small Telegram presentation helpers: HTML escaping and
// formatting for ParseMode "HTML", callback data packing and rune-safe
// truncation.
package tgui
