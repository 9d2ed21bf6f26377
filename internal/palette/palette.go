// Package palette holds the user's ordered list of paint colors and the
// rules for giving each entry a unique short identifier.
package palette

import (
	"errors"
	"strconv"
	"strings"

	"pbn-studio/internal/model"

	"github.com/google/uuid"
)

const (
	maxNumericID   = 99
	randomIDLength = 6
	randomIDTries  = 8
)

var ErrDuplicateID = errors.New("palette id already in use")

// Palette is an ordered sequence of colors. It is not safe for concurrent use;
// owners serialize access themselves.
type Palette struct {
	colors []model.PaletteColor
}

func New(colors ...model.PaletteColor) *Palette {
	p := &Palette{colors: make([]model.PaletteColor, 0, len(colors))}
	p.colors = append(p.colors, colors...)
	return p
}

func (p *Palette) Len() int {
	return len(p.colors)
}

// Colors returns a copy that callers may keep or mutate freely.
func (p *Palette) Colors() []model.PaletteColor {
	out := make([]model.PaletteColor, len(p.colors))
	copy(out, p.colors)
	return out
}

func (p *Palette) Get(id string) (model.PaletteColor, bool) {
	if i := p.index(id); i >= 0 {
		return p.colors[i], true
	}
	return model.PaletteColor{}, false
}

// Add appends c. An empty id is replaced with NextID(); a supplied id must not
// collide with an existing entry.
func (p *Palette) Add(c model.PaletteColor) (model.PaletteColor, error) {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		c.ID = p.NextID()
	} else if p.index(c.ID) >= 0 {
		return model.PaletteColor{}, ErrDuplicateID
	}
	p.colors = append(p.colors, c)
	return c, nil
}

// AddDefault appends a gray entry with a fresh id.
func (p *Palette) AddDefault() model.PaletteColor {
	c, _ := p.Add(model.PaletteColor{RGB: model.DefaultGray})
	return c
}

// Remove deletes the entry with id. Removing an unknown id is not an error;
// the return value only reports whether something was deleted.
func (p *Palette) Remove(id string) bool {
	i := p.index(id)
	if i < 0 {
		return false
	}
	p.colors = append(p.colors[:i], p.colors[i+1:]...)
	return true
}

func (p *Palette) UpdateNote(id, note string) bool {
	i := p.index(id)
	if i < 0 {
		return false
	}
	p.colors[i].Note = note
	return true
}

func (p *Palette) UpdateColor(id string, rgb model.RGB) bool {
	i := p.index(id)
	if i < 0 {
		return false
	}
	p.colors[i].RGB = rgb
	return true
}

// NextID returns the first free id among "1".."99", then "A".."Z". When both
// tiers are exhausted it falls back to a short random token, which may
// collide in the rare case all retries hit existing ids.
func (p *Palette) NextID() string {
	used := make(map[string]struct{}, len(p.colors))
	for _, c := range p.colors {
		used[c.ID] = struct{}{}
	}
	return nextID(used)
}

func nextID(used map[string]struct{}) string {
	for n := 1; n <= maxNumericID; n++ {
		id := strconv.Itoa(n)
		if _, ok := used[id]; !ok {
			return id
		}
	}
	for ch := 'A'; ch <= 'Z'; ch++ {
		id := string(ch)
		if _, ok := used[id]; !ok {
			return id
		}
	}
	id := randomID()
	for i := 1; i < randomIDTries; i++ {
		if _, ok := used[id]; !ok {
			break
		}
		id = randomID()
	}
	return id
}

func randomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:randomIDLength]
}

func (p *Palette) index(id string) int {
	for i, c := range p.colors {
		if c.ID == id {
			return i
		}
	}
	return -1
}
