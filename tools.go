//go:build tools
// +build tools

// Package tools tracks Go-based tool dependencies (mockgen for go generate)
// in go.mod.
package tools

import (
	_ "go.uber.org/mock/mockgen"
)
