// Package logx wraps zerolog behind a small Field-func API so call sites
// stay stable if the backend changes. The zero Logger is a safe no-op.
package logx
