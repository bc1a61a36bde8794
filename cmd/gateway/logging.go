package main

import (
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
	"github.com/wercker/journalhook"
)

// configureLogging implements the --log-format switch: "json" uses
// logrus's built-in JSON formatter, "journald" adds the systemd journal
// hook (wercker/journalhook) on top of the default formatter, and
// anything else (including the empty string) gets the human-readable
// prefixed text formatter.
func configureLogging(format string) {
	switch format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "journald":
		journalhook.Enable()
	default:
		logrus.SetFormatter(&prefixed.TextFormatter{})
	}
}
