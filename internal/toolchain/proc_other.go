//go:build !unix

package toolchain

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}
