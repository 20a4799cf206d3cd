//go:build tools
// +build tools

// Package tools documents development tool dependencies that are installed
// globally via `go install` rather than tracked in go.mod. Tools invoked
// through `go run` (mockgen, see internal/mocks) are tracked in go.mod and
// do not belong here.
package tools

// Development tools (install via `go install`):
//
// Air - Live reload while developing the scheduler
//   Install: go install github.com/air-verse/air@v1.63.0
//   Version: v1.63.0 (pinned 2025-01-01)
//   Docs: https://github.com/air-verse/air
