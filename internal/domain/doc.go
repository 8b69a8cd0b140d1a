// Package domain holds the schedule, selection and preference entities shared by
// the stores, the notification engine and the chat front-end.
//
// Times are always carried as aware time.Time values. Storage keeps them in UTC;
// presentation converts them to the display timezone at the boundary.
package domain
