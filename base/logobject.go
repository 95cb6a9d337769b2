// Copyright (c) 2020,2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

package base

import (
	"github.com/sirupsen/logrus"
)

// LogObject : logger plus the structured fields attached to every entry.
// The device code passes one around instead of touching the logrus
// package-level logger so two contexts never share log settings.
type LogObject struct {
	Initialized bool
	Fields      map[string]interface{}
	logger      *logrus.Logger
}

// NewSourceLogObject : create the top-level object for one source (a
// library context or a command) with the source and pid fields set.
func NewSourceLogObject(logger *logrus.Logger, source string, pid int) *LogObject {
	object := new(LogObject)
	object.logger = logger
	object.Initialized = true
	object.Fields = map[string]interface{}{
		"source": source,
		"pid":    pid,
	}
	return object
}

// Logger returns the underlying logger
func (object *LogObject) Logger() *logrus.Logger {
	return object.logger
}

// AddField : add a key value pair to the object
func (object *LogObject) AddField(key string, value interface{}) *LogObject {
	object.Fields[key] = value
	return object
}

// AddFields : add several key value pairs to the object
func (object *LogObject) AddFields(fields map[string]interface{}) *LogObject {
	for k, v := range fields {
		object.Fields[k] = v
	}
	return object
}

// Clone : copy of the object which can be modified without affecting the
// original
func (object *LogObject) Clone() *LogObject {
	newLogObject := new(LogObject)
	newLogObject.logger = object.logger
	newLogObject.Initialized = object.Initialized
	newLogObject.Fields = make(map[string]interface{}, len(object.Fields))
	for k, v := range object.Fields {
		newLogObject.Fields[k] = v
	}
	return newLogObject
}

// CloneAndAddField : clone the object and add one field to the clone
func (object *LogObject) CloneAndAddField(key string, value interface{}) *LogObject {
	newLogObject := object.Clone()
	newLogObject.AddField(key, value)
	return newLogObject
}

func (object *LogObject) entry() *logrus.Entry {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
	}
	return object.logger.WithFields(object.Fields)
}

// Functionf : function entry and exit tracing, mapped to debug
func (object *LogObject) Functionf(format string, args ...interface{}) {
	object.entry().Debugf(format, args...)
}

// Tracef : high volume tracing such as per-frame events
func (object *LogObject) Tracef(format string, args ...interface{}) {
	object.entry().Tracef(format, args...)
}

// Debugf :
func (object *LogObject) Debugf(format string, args ...interface{}) {
	object.entry().Debugf(format, args...)
}

// Noticef : normal but significant, mapped to info
func (object *LogObject) Noticef(format string, args ...interface{}) {
	object.entry().Infof(format, args...)
}

// Infof :
func (object *LogObject) Infof(format string, args ...interface{}) {
	object.entry().Infof(format, args...)
}

// Warnf :
func (object *LogObject) Warnf(format string, args ...interface{}) {
	object.entry().Warnf(format, args...)
}

// Warn :
func (object *LogObject) Warn(args ...interface{}) {
	object.entry().Warn(args...)
}

// Errorf :
func (object *LogObject) Errorf(format string, args ...interface{}) {
	object.entry().Errorf(format, args...)
}

// Error :
func (object *LogObject) Error(args ...interface{}) {
	object.entry().Error(args...)
}

// Fatalf :
func (object *LogObject) Fatalf(format string, args ...interface{}) {
	object.entry().Fatalf(format, args...)
}

// Fatal :
func (object *LogObject) Fatal(args ...interface{}) {
	object.entry().Fatal(args...)
}
