// Package registry defines plugin identity, manifests, and the HTTP client
// for the ToolBay plugin registry.
package registry

import (
	"errors"
	"fmt"
	"strings"
)

// Identity errors.
var (
	ErrInvalidPluginID = errors.New("invalid plugin id")
	ErrInvalidVersion  = errors.New("invalid version")
)

// PluginID uniquely identifies a plugin across all of its versions.
type PluginID struct {
	name string
}

// NewPluginID creates a PluginID from its string form.
// Plugin ids are lowercase alphanumeric with hyphens.
func NewPluginID(name string) (PluginID, error) {
	if name == "" {
		return PluginID{}, fmt.Errorf("%w: id cannot be empty", ErrInvalidPluginID)
	}
	for _, c := range name {
		isLowercase := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isHyphen := c == '-'
		if !isLowercase && !isDigit && !isHyphen {
			return PluginID{}, fmt.Errorf("%w: invalid character in %q: %c", ErrInvalidPluginID, name, c)
		}
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		return PluginID{}, fmt.Errorf("%w: id cannot start or end with hyphen", ErrInvalidPluginID)
	}
	return PluginID{name: name}, nil
}

// MustNewPluginID creates a PluginID, panicking on error.
func MustNewPluginID(name string) PluginID {
	id, err := NewPluginID(name)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the plugin id as a string.
func (id PluginID) String() string {
	return id.name
}

// IsZero returns true if this is a zero-value PluginID.
func (id PluginID) IsZero() bool {
	return id.name == ""
}

// Equals returns true if this id equals another.
func (id PluginID) Equals(other PluginID) bool {
	return id.name == other.name
}

// MarshalJSON implements json.Marshaler.
func (id PluginID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.name + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *PluginID) UnmarshalJSON(data []byte) error {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		id.name = string(data[1 : len(data)-1])
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidPluginID, string(data))
}

// MarshalYAML implements yaml.Marshaler.
func (id PluginID) MarshalYAML() (interface{}, error) {
	return id.name, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (id *PluginID) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	id.name = s
	return nil
}

// Version names a specific plugin release. It is an opaque token: two
// versions are the same release if and only if their strings are equal.
// No range or compatibility matching is performed on it.
type Version struct {
	value string
}

// NewVersion creates a Version from its string form.
func NewVersion(value string) Version {
	return Version{value: value}
}

// String returns the version as a string.
func (v Version) String() string {
	return v.value
}

// IsZero returns true if no version is set.
func (v Version) IsZero() bool {
	return v.value == ""
}

// Equals returns true if this version names the same release as another.
func (v Version) Equals(other Version) bool {
	return v.value == other.value
}

// MarshalJSON implements json.Marshaler.
func (v Version) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.value + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Version) UnmarshalJSON(data []byte) error {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		v.value = string(data[1 : len(data)-1])
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidVersion, string(data))
}

// MarshalYAML implements yaml.Marshaler.
func (v Version) MarshalYAML() (interface{}, error) {
	return v.value, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *Version) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v.value = s
	return nil
}
