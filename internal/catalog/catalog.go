// Package catalog holds the fixed table of remote triggers understood by the
// display peer.
package catalog

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Trigger is a single remote action.
type Trigger struct {
	Key   string `json:"key" yaml:"key"`
	Name  string `json:"name" yaml:"name"`
	Emoji string `json:"emoji,omitempty" yaml:"emoji,omitempty"`
}

// String renders the trigger for console output.
func (t Trigger) String() string {
	if t.Emoji == "" {
		return fmt.Sprintf("[%s] %s", t.Key, t.Name)
	}
	return fmt.Sprintf("%s [%s] %s", t.Emoji, t.Key, t.Name)
}

// MaxKeyLength bounds trigger keys in runes.
const MaxKeyLength = 8

// Catalog is an ordered, immutable set of triggers.
type Catalog struct {
	triggers []Trigger
	byKey    map[string]int
}

// New builds a catalog. Keys must be unique, non-empty and at most
// MaxKeyLength runes; names must be non-empty.
func New(triggers []Trigger) (*Catalog, error) {
	c := &Catalog{
		triggers: make([]Trigger, 0, len(triggers)),
		byKey:    make(map[string]int, len(triggers)),
	}
	for _, t := range triggers {
		if t.Key == "" {
			return nil, fmt.Errorf("trigger %q has an empty key", t.Name)
		}
		if utf8.RuneCountInString(t.Key) > MaxKeyLength {
			return nil, fmt.Errorf("trigger key %q exceeds %d characters", t.Key, MaxKeyLength)
		}
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("trigger %q has an empty name", t.Key)
		}
		if _, dup := c.byKey[t.Key]; dup {
			return nil, fmt.Errorf("duplicate trigger key %q", t.Key)
		}
		c.byKey[t.Key] = len(c.triggers)
		c.triggers = append(c.triggers, t)
	}
	return c, nil
}

// MustNew is New that panics on error. Used for package-level tables.
func MustNew(triggers []Trigger) *Catalog {
	c, err := New(triggers)
	if err != nil {
		panic(err)
	}
	return c
}

// Default is the trigger table of the face display.
var Default = MustNew([]Trigger{
	{Key: "1", Name: "Idle", Emoji: "😌"},
	{Key: "2", Name: "Puppy Eyes", Emoji: "🥺"},
	{Key: "3", Name: "Staring", Emoji: "👀"},
	{Key: "4", Name: "Happy", Emoji: "😄"},
	{Key: "5", Name: "Panting", Emoji: "😛"},
	{Key: "6", Name: "Sighing", Emoji: "😮‍💨"},
	{Key: "7", Name: "Barking", Emoji: "🐕"},
	{Key: "8", Name: "Woofing", Emoji: "🐶"},
	{Key: "9", Name: "Bumping", Emoji: "💥"},
	{Key: "ß", Name: "Gaze Right", Emoji: "👉"},
	{Key: "0", Name: "Gaze Left", Emoji: "👈"},
	{Key: "i", Name: "Stop All Sounds", Emoji: "🔇"},
})

// All returns the triggers in catalog order.
func (c *Catalog) All() []Trigger {
	out := make([]Trigger, len(c.triggers))
	copy(out, c.triggers)
	return out
}

// Len returns the number of triggers.
func (c *Catalog) Len() int {
	return len(c.triggers)
}

// Lookup finds a trigger by key.
func (c *Catalog) Lookup(key string) (Trigger, bool) {
	i, ok := c.byKey[key]
	if !ok {
		return Trigger{}, false
	}
	return c.triggers[i], true
}

// Contains reports whether key is a catalog key.
func (c *Catalog) Contains(key string) bool {
	_, ok := c.byKey[key]
	return ok
}

// Name returns the trigger name for key, or the key itself when unknown.
func (c *Catalog) Name(key string) string {
	if t, ok := c.Lookup(key); ok {
		return t.Name
	}
	return key
}

// Resolve accepts either a key or a case-insensitive trigger name.
func (c *Catalog) Resolve(input string) (Trigger, bool) {
	input = strings.TrimSpace(input)
	if t, ok := c.Lookup(input); ok {
		return t, true
	}
	for _, t := range c.triggers {
		if strings.EqualFold(t.Name, input) {
			return t, true
		}
	}
	return Trigger{}, false
}

// Keys returns the keys in catalog order.
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.triggers))
	for i, t := range c.triggers {
		keys[i] = t.Key
	}
	return keys
}
