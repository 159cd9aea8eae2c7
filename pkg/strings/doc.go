// Package strings holds text helpers for displaying settings and results:
// single line truncation and secret masking.
package strings
