package property

import (
	"errors"
	"fmt"
	"sync"

	"factory_device/internal/models"
)

// Recognized property names.
const (
	UnitPerMinute       = "UnitPerMinute"
	HeatPerUnit         = "HeatPerUnit"
	OverheatLimit       = "OverheatLimit"
	CooldownPerMinute   = "CooldownPerMinute"
	RestartCooldownTemp = "RestartCooldownTemp"
	SendIntervalInMs    = "SendIntervalInMs"
	ReadIntervalInMs    = "ReadIntervalInMs"
	Overheated          = "Overheated"
	Activated           = "Activated"
)

var (
	ErrTypeMismatch = errors.New("property type mismatch")
	ErrNotFound     = errors.New("property not found")
	ErrInvalidValue = errors.New("invalid property value")
	ErrStaleVersion = errors.New("stale desired version")
)

// definition describes a recognized property and its default.
type definition struct {
	name      string
	value     models.Value
	updatable bool
}

// defaults is the factory configuration in reporting order.
var defaults = []definition{
	{UnitPerMinute, models.Float(60), true},
	{HeatPerUnit, models.Float(5), true},
	{OverheatLimit, models.Float(200), true},
	{CooldownPerMinute, models.Float(20), true},
	{RestartCooldownTemp, models.Float(100), true},
	{SendIntervalInMs, models.Int(10000), true},
	{ReadIntervalInMs, models.Int(1000), true},
	{Overheated, models.Bool(false), false},
	{Activated, models.Bool(true), true},
}

// PushFunc receives a snapshot of the whole property set after a change.
// It is called without the store lock held and may block.
type PushFunc func(Snapshot)

// Entry is one write of a batched update.
type Entry struct {
	Name     string
	Property models.Property
}

// Store holds the device properties and pushes a snapshot whenever a write
// actually changes something.
//
// Thread Safety: all methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	order    []string
	props    map[string]models.Property
	dirty    map[string]struct{}
	revision uint64
	version  int64
	push     PushFunc
}

// New returns a store holding the factory defaults. Construction does not push.
func New(push PushFunc) *Store {
	s := &Store{
		props: make(map[string]models.Property, len(defaults)),
		dirty: make(map[string]struct{}),
		push:  push,
	}
	for _, d := range defaults {
		s.order = append(s.order, d.name)
		s.props[d.name] = models.Property{Value: d.value}
	}
	return s
}

// SetPush replaces the push callback. Used to attach the reporter after construction.
func (s *Store) SetPush(push PushFunc) {
	s.mu.Lock()
	s.push = push
	s.mu.Unlock()
}

// RecognizedNames returns the externally settable property names in reporting order.
func (s *Store) RecognizedNames() []string {
	names := make([]string, 0, len(defaults))
	for _, d := range defaults {
		if d.updatable {
			names = append(names, d.name)
		}
	}
	return names
}

// Set stores a plain value under name.
func (s *Store) Set(name string, v models.Value) error {
	return s.Put(name, models.Property{Value: v})
}

// Put stores p under name. A write equal to the current property is ignored.
func (s *Store) Put(name string, p models.Property) error {
	s.mu.Lock()
	changed, err := s.applyLocked(name, p)
	var snap Snapshot
	if changed {
		snap = s.takeSnapshotLocked()
	}
	push := s.push
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if changed && push != nil {
		push(snap)
	}
	return nil
}

// SetMany applies entries under a single lock scope. Entries that fail type
// checks are skipped and their errors joined; the rest are still applied.
// At most one push is issued.
func (s *Store) SetMany(entries []Entry) (int, error) {
	return s.setMany(entries, nil)
}

// SetManyAt is SetMany for entries acknowledged at a desired version. A
// version older than the mirrored one is refused with ErrStaleVersion and
// nothing is applied; otherwise the mirrored version moves to version.
func (s *Store) SetManyAt(version int64, entries []Entry) (int, error) {
	return s.setMany(entries, &version)
}

func (s *Store) setMany(entries []Entry, version *int64) (int, error) {
	var errs []error
	changed := 0

	s.mu.Lock()
	if version != nil {
		if *version < s.version {
			cur := s.version
			s.mu.Unlock()
			return 0, fmt.Errorf("%w: %d is older than %d", ErrStaleVersion, *version, cur)
		}
		s.version = *version
	}
	for _, e := range entries {
		ok, err := s.applyLocked(e.Name, e.Property)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			changed++
		}
	}
	var snap Snapshot
	if changed > 0 {
		snap = s.takeSnapshotLocked()
	}
	push := s.push
	s.mu.Unlock()

	if changed > 0 && push != nil {
		push(snap)
	}
	return changed, errors.Join(errs...)
}

// Report pushes the current snapshot regardless of whether anything changed.
func (s *Store) Report() {
	s.mu.Lock()
	snap := s.takeSnapshotLocked()
	push := s.push
	s.mu.Unlock()

	if push != nil {
		push(snap)
	}
}

// applyLocked performs the type check and change detection. Callers hold s.mu.
func (s *Store) applyLocked(name string, p models.Property) (bool, error) {
	if !p.Value.IsValid() {
		return false, fmt.Errorf("%w: %s", ErrInvalidValue, name)
	}
	cur, exists := s.props[name]
	if !exists {
		s.order = append(s.order, name)
	} else {
		if cur.Value.Kind() != p.Value.Kind() {
			return false, fmt.Errorf("%w: %s is %s, got %s", ErrTypeMismatch, name, cur.Value.Kind(), p.Value.Kind())
		}
		if cur.Equal(p) {
			return false, nil
		}
	}
	s.props[name] = p
	s.dirty[name] = struct{}{}
	s.revision++
	return true, nil
}

// Get returns the current value of name.
func (s *Store) Get(name string) (models.Value, error) {
	p, err := s.Property(name)
	if err != nil {
		return models.Value{}, err
	}
	return p.Value, nil
}

// Property returns the stored property including acknowledgment metadata.
func (s *Store) Property(name string) (models.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.props[name]
	if !ok {
		return models.Property{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p, nil
}

// Float returns a numeric property as float64, or the factory default when
// the property is missing or not numeric.
func (s *Store) Float(name string) float64 {
	if v, err := s.Get(name); err == nil {
		if f, ok := v.AsFloat(); ok {
			return f
		}
	}
	f, _ := defaultValue(name).AsFloat()
	return f
}

// Int returns an integer property, or the factory default.
func (s *Store) Int(name string) int64 {
	if v, err := s.Get(name); err == nil {
		if i, ok := v.AsInt(); ok {
			return i
		}
	}
	i, _ := defaultValue(name).AsInt()
	return i
}

// Bool returns a boolean property, or the factory default.
func (s *Store) Bool(name string) bool {
	if v, err := s.Get(name); err == nil {
		if b, ok := v.AsBool(); ok {
			return b
		}
	}
	b, _ := defaultValue(name).AsBool()
	return b
}

// Kind returns the established kind of name, or KindInvalid if it was never set.
func (s *Store) Kind(name string) models.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.props[name].Value.Kind()
}

// Version returns the mirrored control-plane desired version.
func (s *Store) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// ObserveVersion records a desired version seen from the control plane.
// The mirrored version never moves backwards; false means v was older.
func (s *Store) ObserveVersion(v int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v < s.version {
		return false
	}
	s.version = v
	return true
}

// Snapshot returns a copy of the current property set.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked(nil)
}

// takeSnapshotLocked copies the state for a push and clears the dirty set.
func (s *Store) takeSnapshotLocked() Snapshot {
	changed := make([]string, 0, len(s.dirty))
	for _, name := range s.order {
		if _, ok := s.dirty[name]; ok {
			changed = append(changed, name)
		}
	}
	clear(s.dirty)
	return s.copyLocked(changed)
}

func (s *Store) copyLocked(changed []string) Snapshot {
	entries := make([]Entry, 0, len(s.order))
	for _, name := range s.order {
		entries = append(entries, Entry{Name: name, Property: s.props[name]})
	}
	return Snapshot{
		Entries:  entries,
		Revision: s.revision,
		Version:  s.version,
		Changed:  changed,
	}
}

func defaultValue(name string) models.Value {
	for _, d := range defaults {
		if d.name == name {
			return d.value
		}
	}
	return models.Value{}
}
