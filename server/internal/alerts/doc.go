// Package alerts implements the rule evaluation engine and webhook delivery
// for throughput alerting. Rules are evaluated against periodic samples of
// the shared monitor; webhooks are delivered to Teams, Slack, PagerDuty, or
// generic HTTP targets.
package alerts
