// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package config reads KEY=VALUE data: dotenv files and the address listing
// printed by a deployment run.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/ini.v1"
)

var loadOpts = ini.LoadOptions{
	KeyValueDelimiters:        "=",
	SkipUnrecognizableLines:   true,
	UnescapeValueDoubleQuotes: true,
	IgnoreInlineComment:       true,
}

// KeyValue is one entry of a KEY=VALUE listing.
type KeyValue struct {
	Key   string
	Value string
}

// Ordered returns the key-value pairs of the config file path or []byte data
// in the order they appear. A repeated key keeps its last value at the
// position of its first appearance.
func Ordered(cfgPathOrData any) ([]KeyValue, error) {
	cfgFile, err := ini.LoadSources(loadOpts, cfgPathOrData)
	if err != nil {
		return nil, err
	}
	return ordered(cfgFile), nil
}

func ordered(cfgFile *ini.File) []KeyValue {
	var kvs []KeyValue
	for _, section := range cfgFile.Sections() {
		for _, key := range section.Keys() {
			kvs = append(kvs, KeyValue{Key: key.Name(), Value: key.String()})
		}
	}
	return kvs
}

// ApplyEnvFile loads a dotenv file and sets every variable that is not
// already present in the process environment. Leading "export " is accepted.
// The names of the variables that were set are returned.
func ApplyEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cleaned bytes.Buffer
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "export ")
		cleaned.WriteString(line)
		cleaned.WriteByte('\n')
	}
	kvs, err := Ordered(cleaned.Bytes())
	if err != nil {
		return nil, fmt.Errorf("error parsing env file %s: %w", path, err)
	}
	var set []string
	for _, kv := range kvs {
		if _, exists := os.LookupEnv(kv.Key); exists {
			continue
		}
		if err := os.Setenv(kv.Key, kv.Value); err != nil {
			return set, err
		}
		set = append(set, kv.Key)
	}
	return set, nil
}
