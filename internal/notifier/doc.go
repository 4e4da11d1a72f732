// Package notifier tells operators how each generator run went.
//
// It listens for run.completed events on the event bus, renders a short
// plain-text summary and hands it to a Sender. Delivery is rate limited and
// retried with jittered backoff; a message that still fails is logged and
// dropped. Runs that created nothing and had no failures are skipped unless
// NotifyIdle is set.
//
// # Transport
//
// TelegramSender posts to one chat (optionally a forum topic) through
// telebot. NopSender discards everything and is used when notifications
// are disabled.
package notifier
