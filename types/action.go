// Copyright (c) 2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

package types

import "fmt"

// Action : state transition carried by an event
type Action string

// Kernel kobject actions, plus ActionAbsent for devices which were looked
// up directly rather than received as an event
const (
	ActionAbsent  Action = "absent"
	ActionAdd     Action = "add"
	ActionRemove  Action = "remove"
	ActionChange  Action = "change"
	ActionMove    Action = "move"
	ActionOnline  Action = "online"
	ActionOffline Action = "offline"
	ActionBind    Action = "bind"
	ActionUnbind  Action = "unbind"
)

// ParseAction accepts the action names the kernel emits
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionAdd, ActionRemove, ActionChange, ActionMove,
		ActionOnline, ActionOffline, ActionBind, ActionUnbind:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

func (a Action) String() string {
	return string(a)
}
