// Package cmdutil holds helpers shared by the vfsbridge commands.
package cmdutil

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-kit/log/level"
)

type levelEntry struct {
	value  level.Value
	option level.Option
}

var levels = map[string]levelEntry{
	"error": {level.ErrorValue(), level.AllowError()},
	"warn":  {level.WarnValue(), level.AllowWarn()},
	"info":  {level.InfoValue(), level.AllowInfo()},
	"debug": {level.DebugValue(), level.AllowDebug()},
}

const defaultLevel = "info"

// LogLevel is a flag.Value and yaml.Unmarshaler selecting which go-kit log
// levels are kept. The zero value allows info and above.
type LogLevel struct {
	name string
}

// String implements flag.Value.
func (l LogLevel) String() string {
	if l.name == "" {
		return defaultLevel
	}
	return l.name
}

// Set implements flag.Value.
func (l *LogLevel) Set(in string) error {
	name := strings.ToLower(in)
	if _, ok := levels[name]; !ok {
		valid := make([]string, 0, len(levels))
		for k := range levels {
			valid = append(valid, k)
		}
		sort.Strings(valid)
		return fmt.Errorf("unknown log level %q, valid options %s", in, strings.Join(valid, ", "))
	}
	l.name = name
	return nil
}

// UnmarshalYAML allows LogLevel to be set from a config file.
func (l *LogLevel) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return l.Set(s)
}

// Value returns the level.Value for l.
func (l LogLevel) Value() level.Value { return levels[l.String()].value }

// FilterOption returns l as an option for level.NewFilter.
func (l LogLevel) FilterOption() level.Option { return levels[l.String()].option }
