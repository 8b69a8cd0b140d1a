// Package view renders user-facing texts (Telegram HTML) from domain values.
// Instants are shown in the renderer's display timezone.
package view
