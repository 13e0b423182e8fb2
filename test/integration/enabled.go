//go:build integration

package integration

const skip = false
