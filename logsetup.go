package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"keeper/config"
)

var lumberjackLogger *lumberjack.Logger

func SetupLogger(logLevel log.Level, fileLoggingEnabled bool) {
	lumberjackLogger = &lumberjack.Logger{
		// Log file absolute path, os agnostic
		Filename:   filepath.ToSlash("logs/keeper.log"),
		MaxSize:    config.Config.Logging.MaxSize, // MB
		MaxBackups: config.Config.Logging.MaxBackups,
		MaxAge:     config.Config.Logging.MaxAge,   // days
		Compress:   config.Config.Logging.Compress, // disabled by default
	}

	var output io.Writer
	if fileLoggingEnabled {
		// Fork writing into two outputs
		output = io.MultiWriter(os.Stdout, lumberjackLogger)
	} else {
		output = os.Stdout
	}

	logFormatter := new(PlainFormatter)
	logFormatter.TimestampFormat = "2006-01-02 15:04:05"
	logFormatter.LevelDesc = []string{"PANC", "FATL", "ERRO", "WARN", "INFO", "DEBG", "TRCE"}

	log.SetFormatter(logFormatter)
	log.SetLevel(logLevel)
	log.SetOutput(output)
}

// RotateLogs starts a new log file, keeping the old one as a backup
func RotateLogs() error {
	if lumberjackLogger == nil {
		return nil
	}
	return lumberjackLogger.Rotate()
}

type PlainFormatter struct {
	TimestampFormat string
	LevelDesc       []string
}

func (f *PlainFormatter) Format(entry *log.Entry) ([]byte, error) {
	timestamp := entry.Time.Format(f.TimestampFormat)
	level := "????"
	if int(entry.Level) < len(f.LevelDesc) {
		level = f.LevelDesc[entry.Level]
	}
	return []byte(fmt.Sprintf("%s %s %s\n", level, timestamp, entry.Message)), nil
}
