// Package alerts turns engine frame results into notifications.
//
// A Notifier evaluates "field op value" rules against every frame result of
// every stream. When a rule starts firing, and again after each cooldown while
// it keeps firing, the alert is delivered asynchronously to the configured
// Slack, Teams or generic HTTP webhooks. A rule that stops matching, or a
// session that stops, resolves the alert.
package alerts
