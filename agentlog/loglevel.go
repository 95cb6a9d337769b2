// Copyright (c) 2018,2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

// Map between syslog priorities, as used by udev.conf, and logrus levels.

package agentlog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Syslog priorities
const (
	LogEmerg = iota
	LogAlert
	LogCrit
	LogErr
	LogWarning
	LogNotice
	LogInfo
	LogDebug
)

var priorityNames = map[string]int{
	"emerg":   LogEmerg,
	"alert":   LogAlert,
	"crit":    LogCrit,
	"err":     LogErr,
	"error":   LogErr,
	"warning": LogWarning,
	"warn":    LogWarning,
	"notice":  LogNotice,
	"info":    LogInfo,
	"debug":   LogDebug,
}

// ParsePriority accepts a syslog priority name or number
func ParsePriority(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if p, ok := priorityNames[s]; ok {
		return p, nil
	}
	p, err := strconv.Atoi(s)
	if err != nil || p < LogEmerg || p > LogDebug {
		return 0, fmt.Errorf("invalid log priority %q", s)
	}
	return p, nil
}

// PriorityName returns the canonical syslog name of a priority
func PriorityName(priority int) string {
	switch priority {
	case LogEmerg:
		return "emerg"
	case LogAlert:
		return "alert"
	case LogCrit:
		return "crit"
	case LogErr:
		return "err"
	case LogWarning:
		return "warning"
	case LogNotice:
		return "notice"
	case LogInfo:
		return "info"
	case LogDebug:
		return "debug"
	}
	return strconv.Itoa(priority)
}

// PriorityToLevel returns the least severe logrus level enabled by a
// syslog priority
func PriorityToLevel(priority int) logrus.Level {
	switch {
	case priority <= LogCrit:
		return logrus.FatalLevel
	case priority == LogErr:
		return logrus.ErrorLevel
	case priority == LogWarning:
		return logrus.WarnLevel
	case priority <= LogInfo:
		return logrus.InfoLevel
	}
	return logrus.DebugLevel
}

// LevelToPriority is the syslog priority reported for an entry
func LevelToPriority(level logrus.Level) int {
	switch level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return LogCrit
	case logrus.ErrorLevel:
		return LogErr
	case logrus.WarnLevel:
		return LogWarning
	case logrus.InfoLevel:
		return LogInfo
	}
	return LogDebug
}
