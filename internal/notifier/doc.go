// Package notifier delivers short operator notices to the bot owners.
//
// Notices come from two places: explicit Notify calls (admin command
// confirmations) and the event bus, where the broadcast engine reports
// skipped ticks and formatting problems. Delivery is asynchronous through
// a bounded queue with a worker pool, a token bucket, retries with
// jittered backoff and a dedup window that optionally survives restarts
// through storage.
package notifier
