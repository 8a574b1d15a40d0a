// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Palaver
// components.
//
// Configuration is loaded from a single file specified by either the
// PALAVER_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches.
//
// This package depends on no other Palaver packages.
package config
