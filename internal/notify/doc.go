// Package notify decides which reminder jobs exist and what they do.
//
// Every slot gets one job firing Lead before it starts. The first slot of a
// day reminds everyone who selected a talk in it; every later slot reminds
// only attendees whose location differs from the preceding slot of the same
// day. A (re)plan discards every pending job and registers a fresh set.
package notify
