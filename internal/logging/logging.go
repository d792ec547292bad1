// Package logging points the standard logger at a size-capped rotating file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup sends the standard logger to file, rotated once it reaches maxSizeMB,
// keeping maxBackups old files. An empty file keeps logging on stderr. The
// returned closer flushes the file.
func Setup(file string, maxSizeMB, maxBackups int, prefix string) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if prefix != "" {
		log.SetPrefix(prefix + " ")
	}
	if file == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}
	}

	w := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	log.SetOutput(w)
	return w
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
