// Package sanitize turns a message prefix template into the bounded, colored
// display string sent to chat clients.
package sanitize
