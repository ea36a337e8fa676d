// Package environment layers environment variables over configuration that
// was loaded from a file or built from defaults.
//
// An Overlay only touches a destination when the variable is set to a
// non-empty value, so file values survive unless explicitly overridden.
// Parse failures are collected rather than silently replaced with defaults;
// a typo in RELAY_CONFIRM_TTL should stop the process, not disable expiry.
package environment

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Overlay applies environment variables onto config fields.
type Overlay struct {
	lookup func(string) (string, bool)
	errs   []error
}

// NewOverlay reads from the process environment.
func NewOverlay() *Overlay {
	return &Overlay{lookup: os.LookupEnv}
}

// NewOverlayFrom reads from vars instead of the process environment.
func NewOverlayFrom(vars map[string]string) *Overlay {
	return &Overlay{lookup: func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}}
}

func (o *Overlay) get(name string) (string, bool) {
	v, ok := o.lookup(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (o *Overlay) fail(name, value string, err error) {
	o.errs = append(o.errs, fmt.Errorf("environment variable %s=%q: %w", name, value, err))
}

// String sets *dst when name is set.
func (o *Overlay) String(dst *string, name string) {
	if v, ok := o.get(name); ok {
		*dst = v
	}
}

// Int sets *dst to the decimal value of name.
func (o *Overlay) Int(dst *int, name string) {
	v, ok := o.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		o.fail(name, v, err)
		return
	}
	*dst = n
}

// Bool sets *dst using strconv.ParseBool syntax.
func (o *Overlay) Bool(dst *bool, name string) {
	v, ok := o.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		o.fail(name, v, err)
		return
	}
	*dst = b
}

// Duration sets *dst from a Go duration string such as "30s" or "5m".
func (o *Overlay) Duration(dst *time.Duration, name string) {
	v, ok := o.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		o.fail(name, v, err)
		return
	}
	*dst = d
}

// List sets *dst from a comma-separated value. Blank elements are dropped.
func (o *Overlay) List(dst *[]string, name string) {
	v, ok := o.get(name)
	if !ok {
		return
	}
	*dst = SplitList(v)
}

// Err returns every parse failure seen so far, or nil.
func (o *Overlay) Err() error {
	return errors.Join(o.errs...)
}

// SplitList splits a comma-separated string and trims each element.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
