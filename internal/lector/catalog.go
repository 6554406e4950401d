// Package lector owns the reader catalog, reader lease locks and the remote
// control switch that every terminal polls.
package lector

import (
	"fmt"
	"strings"

	"qrgate/internal/model"
)

// DefaultReaders is the catalog used when READERS is not configured.
var DefaultReaders = []model.Reader{
	{ID: "CEL-001", Name: "Lector Entrada Principal", Location: "Puerta Principal"},
	{ID: "CEL-002", Name: "Lector Salida Principal", Location: "Puerta Principal"},
	{ID: "CEL-003", Name: "Lector Cancha Deportiva", Location: "Área Deportiva"},
	{ID: "CEL-004", Name: "Lector Biblioteca", Location: "Edificio B"},
	{ID: "CEL-005", Name: "Lector Laboratorio", Location: "Edificio C"},
}

// Catalog is the fixed set of known readers.
type Catalog struct {
	readers []model.Reader
	byID    map[string]model.Reader
}

// NewCatalog indexes readers; duplicate ids are rejected.
func NewCatalog(readers []model.Reader) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]model.Reader, len(readers))}
	for _, r := range readers {
		if r.ID == "" {
			return nil, fmt.Errorf("reader without id")
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate reader %q", r.ID)
		}
		c.byID[r.ID] = r
		c.readers = append(c.readers, r)
	}
	return c, nil
}

// ParseReaders reads "ID:Name:Location" entries separated by commas.
func ParseReaders(list string) ([]model.Reader, error) {
	var out []model.Reader
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, ":", 3)
		r := model.Reader{ID: strings.TrimSpace(parts[0])}
		if r.ID == "" {
			return nil, fmt.Errorf("reader entry %q has no id", item)
		}
		if len(parts) > 1 {
			r.Name = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			r.Location = strings.TrimSpace(parts[2])
		}
		out = append(out, r)
	}
	return out, nil
}

// Readers returns the catalog in declaration order.
func (c *Catalog) Readers() []model.Reader {
	return append([]model.Reader(nil), c.readers...)
}

// Lookup finds a reader by id.
func (c *Catalog) Lookup(id string) (model.Reader, bool) {
	r, ok := c.byID[id]
	return r, ok
}
