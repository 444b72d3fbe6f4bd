package message

import (
	"fmt"
	"sort"

	"github.com/glimte/mmate-jms/contracts"
)

// Properties is the typed property bag carried by every message
type Properties struct {
	values   map[string]any
	readOnly bool
}

func newProperties() *Properties {
	return &Properties{values: make(map[string]any)}
}

func (p *Properties) set(name string, v any) error {
	if name == "" {
		return fmt.Errorf("%w: property name cannot be empty", contracts.ErrInvalidArgument)
	}
	if p.readOnly {
		return fmt.Errorf("%w: properties of a received message are read-only", contracts.ErrNotWritable)
	}
	if err := checkValue(v, false); err != nil {
		return fmt.Errorf("property %q: %w", name, err)
	}
	p.values[name] = v
	return nil
}

// SetBool sets a boolean property
func (p *Properties) SetBool(name string, v bool) error { return p.set(name, v) }

// SetInt8 sets an int8 property
func (p *Properties) SetInt8(name string, v int8) error { return p.set(name, v) }

// SetInt16 sets an int16 property
func (p *Properties) SetInt16(name string, v int16) error { return p.set(name, v) }

// SetInt32 sets an int32 property
func (p *Properties) SetInt32(name string, v int32) error { return p.set(name, v) }

// SetInt64 sets an int64 property
func (p *Properties) SetInt64(name string, v int64) error { return p.set(name, v) }

// SetFloat32 sets a float32 property
func (p *Properties) SetFloat32(name string, v float32) error { return p.set(name, v) }

// SetFloat64 sets a float64 property
func (p *Properties) SetFloat64(name string, v float64) error { return p.set(name, v) }

// SetString sets a string property
func (p *Properties) SetString(name string, v string) error { return p.set(name, v) }

// SetObject sets a property from any supported scalar value
func (p *Properties) SetObject(name string, v any) error { return p.set(name, v) }

// GetBool returns a property coerced to bool
func (p *Properties) GetBool(name string) (bool, error) { return toBool(p.values[name]) }

// GetInt8 returns a property coerced to int8
func (p *Properties) GetInt8(name string) (int8, error) { return toInt8(p.values[name]) }

// GetInt16 returns a property coerced to int16
func (p *Properties) GetInt16(name string) (int16, error) { return toInt16(p.values[name]) }

// GetInt32 returns a property coerced to int32
func (p *Properties) GetInt32(name string) (int32, error) { return toInt32(p.values[name]) }

// GetInt64 returns a property coerced to int64
func (p *Properties) GetInt64(name string) (int64, error) { return toInt64(p.values[name]) }

// GetFloat32 returns a property coerced to float32
func (p *Properties) GetFloat32(name string) (float32, error) { return toFloat32(p.values[name]) }

// GetFloat64 returns a property coerced to float64
func (p *Properties) GetFloat64(name string) (float64, error) { return toFloat64(p.values[name]) }

// GetString returns a property coerced to string
func (p *Properties) GetString(name string) (string, error) { return toString(p.values[name]) }

// GetObject returns the raw property value, or nil when unset
func (p *Properties) GetObject(name string) any { return p.values[name] }

// Exists reports whether the property is set
func (p *Properties) Exists(name string) bool {
	_, ok := p.values[name]
	return ok
}

// Names returns the property names in lexical order
func (p *Properties) Names() []string {
	names := make([]string, 0, len(p.values))
	for name := range p.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of properties
func (p *Properties) Len() int {
	return len(p.values)
}

func (p *Properties) clear() {
	p.values = make(map[string]any)
	p.readOnly = false
}
