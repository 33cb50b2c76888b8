// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package device

import (
	"iter"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/events"
)

// Tracked is implemented by radio specific device records (which embed *Device).
type Tracked interface {
	ID() events.DeviceID
	Address() address.Address
	SetAddress(addr address.Address)
}

// Map finds devices by current address, by the address they rotated from,
// or by ID. Shifted lookup relies on the old first half becoming the new
// second half, so an index by first half answers it in O(1).
type Map[D Tracked] struct {
	byAddress   map[address.Address]D
	byFirstHalf map[[address.Half]byte]D
	byID        map[events.DeviceID]D
}

func NewMap[D Tracked]() *Map[D] {
	return &Map[D]{
		byAddress:   map[address.Address]D{},
		byFirstHalf: map[[address.Half]byte]D{},
		byID:        map[events.DeviceID]D{},
	}
}

func (m *Map[D]) Len() int { return len(m.byID) }

func (m *Map[D]) Add(d D) {
	addr := d.Address()
	m.byAddress[addr] = d
	m.byFirstHalf[addr.FirstHalf()] = d
	m.byID[d.ID()] = d
}

func (m *Map[D]) unlinkAddress(d D) {
	addr := d.Address()
	if cur, ok := m.byAddress[addr]; ok && cur.ID() == d.ID() {
		delete(m.byAddress, addr)
	}
	if cur, ok := m.byFirstHalf[addr.FirstHalf()]; ok && cur.ID() == d.ID() {
		delete(m.byFirstHalf, addr.FirstHalf())
	}
}

// Get tries exact address, then shifted match. On shifted match the device
// adopts addr and is re-keyed.
func (m *Map[D]) Get(addr address.Address) (D, bool) {
	if d, ok := m.byAddress[addr]; ok {
		return d, true
	}
	return m.findShiftedMatch(addr)
}

func (m *Map[D]) findShiftedMatch(addr address.Address) (D, bool) {
	d, ok := m.byFirstHalf[addr.SecondHalf()]
	if !ok || !addr.IsShift(d.Address()) {
		var empty D
		return empty, false
	}
	m.unlinkAddress(d)
	d.SetAddress(addr)
	m.byAddress[addr] = d
	m.byFirstHalf[addr.FirstHalf()] = d
	return d, true
}

func (m *Map[D]) GetByID(id events.DeviceID) (D, bool) {
	d, ok := m.byID[id]
	return d, ok
}

func (m *Map[D]) Remove(addr address.Address) bool {
	d, ok := m.byAddress[addr]
	if !ok {
		return false
	}
	m.unlinkAddress(d)
	delete(m.byID, d.ID())
	return true
}

func (m *Map[D]) RemoveByID(id events.DeviceID) bool {
	d, ok := m.byID[id]
	if !ok {
		return false
	}
	m.unlinkAddress(d)
	delete(m.byID, id)
	return true
}

func (m *Map[D]) Clear() {
	clear(m.byAddress)
	clear(m.byFirstHalf)
	clear(m.byID)
}

// All iterates in unspecified order, callers must not modify the map while iterating.
func (m *Map[D]) All() iter.Seq[D] {
	return func(yield func(D) bool) {
		for _, d := range m.byID {
			if !yield(d) {
				return
			}
		}
	}
}
