// Package fanout delivers one rendered message per recipient.
//
// Delivery is chunked (BatchSize messages, then BatchPause), optionally paced
// by a token bucket, and tolerant to per-recipient failures: a failed send is
// recorded in the Report and the remaining recipients are still attempted.
package fanout
