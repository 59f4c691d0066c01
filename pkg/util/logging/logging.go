// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package logging wires the node's structured logger.
package logging

import (
	"io"
	"os"

	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	logger "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/stratachain/strata/pkg/config"
)

// Init configures the root logrus logger from the loaded registry. When
// cfg.Output names a file path, output is rotated with lumberjack instead
// of written directly, so long-running nodes don't need an external
// logrotate setup.
func Init(cfg config.LoggerConfig) {
	logger.SetFormatter(&prefixed.TextFormatter{
		ForceColors:     false,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if lvl, err := logger.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(lvl)
	}

	logger.SetOutput(sink(cfg))
}

func sink(cfg config.LoggerConfig) io.Writer {
	if cfg.Output == "" || cfg.Output == "stdout" {
		return os.Stdout
	}

	maxSize := cfg.MaxSizeMB
	if maxSize == 0 {
		maxSize = 100
	}

	return &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    maxSize,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
}

// WithPrefix returns an entry tagged with the owning component's name, the
// convention the teacher repo uses throughout (`logger.WithFields(logger.Fields{"prefix": "mempool"})`).
func WithPrefix(prefix string) *logger.Entry {
	return logger.WithFields(logger.Fields{"prefix": prefix})
}
