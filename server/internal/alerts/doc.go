// Package alerts watches per-organization event rates and raises alerts when a
// threshold rule holds over the last minute, e.g. "events_per_min > 500" or
// "purchases_per_min < 1". Fire and resolve transitions are pushed to the
// org's dashboards on channel org:<id> as {"type":"alert","alert":{...}} and
// delivered to Slack or generic HTTP webhooks.
package alerts
