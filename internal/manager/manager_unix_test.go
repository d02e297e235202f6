//go:build !windows

package manager

import (
	"syscall"

	"github.com/loykin/streamgate/internal/logger"
)

func processAlive(pid int) bool {
	return pid > 0 && syscall.Kill(pid, 0) == nil
}

func loggerDir(dir string) logger.FileConfig {
	return logger.FileConfig{Dir: dir}
}
