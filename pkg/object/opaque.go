package object

import (
	"io"
	"strings"

	"github.com/odvcencio/burrow/pkg/wire"
)

// Opaque returns the class registered for the ancestry recorded in h,
// registering stand-ins for every level this registry does not know. A
// stand-in level keeps the rest of the dataset of its objects as raw bytes
// and writes them back unchanged, so archives of classes the process does
// not link can still be loaded, compared and saved.
//
// Stand-in levels take their versions from h. Registered levels keep their
// hooks and consume their part of the dataset first.
func (r *Registry) Opaque(h *Header) (*Class, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.classes[h.Ancestry]; ok {
		return c, nil
	}

	names := strings.Split(h.Ancestry, ":")
	var super *Class
	start := 0
	for i := len(names) - 1; i > 0; i-- {
		if c, ok := r.classes[strings.Join(names[:i], ":")]; ok {
			super, start = c, i
			break
		}
	}
	for i := start; i < len(names); i++ {
		var v Version
		if i < len(h.Dataset.Levels) {
			v = h.Dataset.Levels[i]
		}
		c := opaqueLevel(names[i], super, v)
		r.classes[c.Ancestry()] = c
		super = c
	}
	super.Module = h.Module
	return super, nil
}

// opaqueLevel builds a stand-in class. Its hooks act only for objects whose
// most derived class it is.
func opaqueLevel(name string, super *Class, v Version) *Class {
	c := &Class{Name: name, Super: super, Version: v}
	c.Reinit = func(o *Object) {
		if o.Class() == c {
			o.SetData(c, nil)
		}
	}
	c.Load = func(o *Object, d *wire.Decoder, _ Version) error {
		if o.Class() != c {
			return nil
		}
		raw, err := io.ReadAll(d)
		if err != nil {
			return err
		}
		o.SetData(c, raw)
		return nil
	}
	c.Save = func(o *Object, e *wire.Encoder) error {
		if o.Class() != c {
			return nil
		}
		raw, _ := o.Data(c).([]byte)
		_, err := e.Write(raw)
		return err
	}
	return c
}
