package session

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
)

var ErrNotCounters = errors.New("entity is not a counter set")

// Counters is a named set of integer counters, such as an inventory's gold
// and treasure or a shrine's offerings. It is not safe for concurrent use;
// the session manager serializes access per owner.
type Counters struct {
	values map[string]int64
}

// NewCounters creates a counter set starting at defaults
func NewCounters(defaults map[string]int64) *Counters {
	values := make(map[string]int64, len(defaults))
	maps.Copy(values, defaults)
	return &Counters{values: values}
}

// CountersFactory returns a Factory producing counter sets with the given
// defaults.
func CountersFactory(defaults map[string]int64) Factory {
	defaults = maps.Clone(defaults)
	return func() Entity {
		return NewCounters(defaults)
	}
}

// Add changes name by delta and returns the new value
func (c *Counters) Add(name string, delta int64) int64 {
	c.values[name] += delta
	return c.values[name]
}

func (c *Counters) Set(name string, value int64) {
	c.values[name] = value
}

func (c *Counters) Value(name string) int64 {
	return c.values[name]
}

// Names returns the counter names in sorted order
func (c *Counters) Names() []string {
	return slices.Sorted(maps.Keys(c.values))
}

func (c *Counters) PersistentFields() map[string]any {
	fields := make(map[string]any, len(c.values))
	for name, value := range c.values {
		fields[name] = value
	}
	return fields
}

// Restore overwrites counters with stored values. Counters missing from the
// stored record keep their defaults.
func (c *Counters) Restore(fields map[string]any) error {
	for name, raw := range fields {
		value, err := toInt64(raw)
		if err != nil {
			return fmt.Errorf("counter %s: %w", name, err)
		}
		c.values[name] = value
	}
	return nil
}

func toInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("non-integer value %v", v)
		}
		return int64(v), nil
	case interface{ Int64() (int64, error) }:
		return v.Int64()
	default:
		return 0, fmt.Errorf("unsupported value %T", raw)
	}
}

// AdjustCounters returns a mutation that applies set and then add to a
// Counters entity.
func AdjustCounters(add, set map[string]int64) func(Entity) error {
	return func(e Entity) error {
		c, ok := e.(*Counters)
		if !ok {
			return ErrNotCounters
		}
		for name, value := range set {
			c.Set(name, value)
		}
		for name, delta := range add {
			c.Add(name, delta)
		}
		return nil
	}
}
