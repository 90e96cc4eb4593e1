// Package api exposes the HTTP surface of detrisd: proof submission, submission
// status, leaderboard rankings, challenge lookup and the Prometheus scrape
// endpoint.
package api
