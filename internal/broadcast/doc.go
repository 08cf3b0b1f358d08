// Package broadcast drives the recurring verse broadcast.
//
// An Engine owns one cron timer. Each tick picks the next message from the
// eligible subset of the active catalog, formats it through the sanitizer and
// hands the result to a Transport once per eligible subscriber.
//
// Start, Stop and Reload are serialized against each other. A tick takes a
// snapshot of the active state under the state mutex, so a Reload never
// changes the data a running tick works on, and a tick scheduled before a
// Stop never delivers after Stop returns.
package broadcast
