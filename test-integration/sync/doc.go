// Package integration provides end-to-end tests for the release
// synchronization engine. Each test drives the real engine, store,
// upstream client and proposer against an in-process forge and a local
// bare registry remote.
package integration
