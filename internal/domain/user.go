// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxNameLen    = 64
	DefaultName   = "Anonymous"
	MaxPathLen    = 4096
	MaxSessionLen = 128
)

var (
	ErrNameTooLong = errors.New("name too long")
	ErrPathTooLong = errors.New("path too long")
)

// NormalizeName trims the display name and falls back to DefaultName.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultName, nil
	}
	if len(name) > MaxNameLen {
		return "", ErrNameTooLong
	}
	return name, nil
}
