//go:build windows

package manager

import "github.com/loykin/streamgate/internal/logger"

func processAlive(int) bool { return false }

func loggerDir(dir string) logger.FileConfig {
	return logger.FileConfig{Dir: dir}
}
