// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfoMarksDirtyBuilds(t *testing.T) {
	savedCommit, savedDirty := GitCommit, GitDirty
	t.Cleanup(func() { GitCommit, GitDirty = savedCommit, savedDirty })

	GitCommit, GitDirty = "abc1234", "true"
	if info := Info(); !strings.Contains(info, "abc1234-dirty") {
		t.Errorf("Info() = %q, want dirty marker", info)
	}
	GitDirty = "false"
	if info := Info(); strings.Contains(info, "dirty") {
		t.Errorf("Info() = %q, want no dirty marker", info)
	}
	if !strings.HasPrefix(UserAgent(), "switchboard/") {
		t.Errorf("UserAgent() = %q", UserAgent())
	}
}
