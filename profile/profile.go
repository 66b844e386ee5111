// {{{ Copyright (c) Paul R. Tagliamonte <paul@k3xec.com>, 2021
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE. }}}

// Package profile saves and restores attenuator channel configurations
// as JSON files.
package profile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Extension is the file extension profiles are stored with.
const Extension = ".json"

const (
	minValue = 0
	maxValue = 121
)

var (
	// ErrInvalidFileType is returned when loading a file that is not a
	// .json profile.
	ErrInvalidFileType = errors.New("profile: invalid file type")

	// ErrInvalidValue is returned for a channel value outside 0..121 dB.
	ErrInvalidValue = errors.New("profile: channel value out of range")
)

// Channel is the saved state of one attenuator channel.
type Channel struct {
	Label string `json:"channel_label"`
	Value int    `json:"channel_value"`
}

// Profile is a saved device configuration.
type Profile struct {
	DeviceType string             `json:"device_type"`
	Address    string             `json:"ip_address"`
	Channels   map[string]Channel `json:"channels"`
}

// ChannelNames returns the names of the saved channels in sorted order.
func (p Profile) ChannelNames() []string {
	names := make([]string, 0, len(p.Channels))
	for name := range p.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the profile is usable.
func (p Profile) Validate() error {
	if p.DeviceType == "" {
		return errors.New("profile: missing device_type")
	}
	for name, ch := range p.Channels {
		if ch.Value < minValue || ch.Value > maxValue {
			return errors.Wrapf(ErrInvalidValue, "profile: %s is %d dB", name, ch.Value)
		}
	}
	return nil
}

// Path returns path with the profile extension appended if it is missing.
func Path(path string) string {
	if strings.HasSuffix(path, Extension) {
		return path
	}
	return path + Extension
}

// Save writes p to path, creating or overwriting it. The .json extension
// is added when missing; the path actually written is returned.
func Save(path string, p Profile) (string, error) {
	path = Path(path)
	buf, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "profile: encode")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", errors.Wrap(err, "profile: create directory")
		}
	}
	if err := os.WriteFile(path, append(buf, '\n'), 0o644); err != nil {
		return "", errors.Wrap(err, "profile: write")
	}
	return path, nil
}

// Load reads and validates the profile at path.
func Load(path string) (Profile, error) {
	if !strings.HasSuffix(path, Extension) {
		return Profile{}, errors.Wrapf(ErrInvalidFileType, "profile: %s", path)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, errors.Wrap(err, "profile: read")
	}
	return Decode(buf)
}

// Decode parses and validates a profile.
func Decode(buf []byte) (Profile, error) {
	var p Profile
	if err := json.Unmarshal(buf, &p); err != nil {
		return Profile{}, errors.Wrap(err, "profile: decode")
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// vim: foldmethod=marker
