package logger

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Default logger writes to stderr
	std = log.New(os.Stderr, "[p2tas] ", log.LstdFlags)

	debug bool
)

func SetOutput(output io.Writer) {
	std.SetOutput(output)
}

// SetFile sends log output to a size-rotated file. The language server uses
// this since stdout carries the protocol.
func SetFile(path string) io.Closer {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	}
	std.SetOutput(w)
	return w
}

// SetLevel enables Debugf output for "debug"; any other level disables it.
func SetLevel(level string) {
	debug = level == "debug"
}

func Printf(format string, v ...interface{}) {
	std.Printf(format, v...)
}

func Println(v ...interface{}) {
	std.Println(v...)
}

func Debugf(format string, v ...interface{}) {
	if debug {
		std.Printf("debug: "+format, v...)
	}
}

func Fatal(v ...interface{}) {
	std.Fatal(v...)
}

func Fatalf(format string, v ...interface{}) {
	std.Fatalf(format, v...)
}
