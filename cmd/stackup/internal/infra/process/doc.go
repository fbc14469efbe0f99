// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package process provides external process execution and inter-process
synchronization for stackup.

# Overview

  - Manager: runs a command in a directory and captures stdout, stderr
    and the exit code without interpreting them
  - ProcessLock: flock-based guard so only one orchestration runs per
    deployment target at a time

# Manager

Every call into the container runtime goes through Manager so tests can
substitute a recording fake:

	pm := process.NewDefaultManager()
	stdout, stderr, code, err := pm.RunInDir(ctx, "/srv/stack", nil, "docker", "ps")

A non-zero exit is reported through the exit code, not the error. The
error is non-nil only when the process could not be started or was
cancelled.

# ProcessLock

	lock := process.NewProcessLock(process.ProcessLockConfig{LockName: "stackup-localai"})
	if err := lock.Acquire(); err != nil {
	    return err
	}
	defer lock.Release()

# Limitations

  - ProcessLock is advisory and requires flock(2) support
  - Two operators on different hosts sharing a network filesystem are
    not serialized
*/
package process
