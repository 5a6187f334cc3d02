package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
)

// LogBuild assembles a zerolog logger writing to a buffer or a rotated file.
type LogBuild struct {
	writer io.Writer
	path   string
	level  zerolog.Level
}

type LogData struct {
	Logger zerolog.Logger
	file   io.Closer
}

func Build() *LogBuild {
	return &LogBuild{level: zerolog.InfoLevel}
}

// FromPath writes to path, rotating it with lumberjack.
func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

// Level parses a zerolog level name; unknown names keep the current level.
func (build *LogBuild) Level(name string) *LogBuild {
	if lvl, err := zerolog.ParseLevel(name); err == nil && name != "" {
		build.level = lvl
	}
	return build
}

func (build *LogBuild) Make() (*LogData, error) {
	logData := new(LogData)
	w := build.writer
	if w == nil {
		w = os.Stderr
	}
	if build.path != "" {
		f := &lumberjack.Logger{
			Filename:   build.path,
			MaxSize:    defaultMaxSizeMB,
			MaxBackups: defaultMaxBackups,
		}
		logData.file = f
		w = zerolog.SyncWriter(f)
	}
	logData.Logger = zerolog.New(w).Level(build.level).With().Timestamp().Logger()
	return logData, nil
}

// Log returns the built logger behind the Logger interface.
func (d *LogData) Log() Logger {
	return NewZerolog(d.Logger)
}

func (d *LogData) Close() error {
	if d.file == nil {
		return nil
	}
	return d.file.Close()
}
