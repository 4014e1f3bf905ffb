//go:build !unix

package command

import "os/exec"

// setProcessGroup is a no-op; WaitDelay still bounds the wait
func setProcessGroup(cmd *exec.Cmd) {}
