// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build tools

// Package main pins the tools used to run the test suites.
//
// The plugin lifecycle suite is tagged integration:
//
//	go run github.com/onsi/ginkgo/v2/ginkgo -tags integration ./internal/plugin
package main

import (
	_ "github.com/onsi/ginkgo/v2/ginkgo"
)
