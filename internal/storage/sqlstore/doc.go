// Package sqlstore opens the relational databases behind the leaderboard and
// the submission queue (MySQL or SQLite) and applies the embedded schema
// migrations shared by both dialects.
package sqlstore
