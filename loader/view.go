// Copyright (C) 2026 pixlru Authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package loader

import (
	"reflect"
	"runtime"
	"sync/atomic"
)

// ViewID identifies a display surface for the purposes of view-reuse
// detection. Callers derive it from the identity of their view
// object, e.g. via IDOf.
type ViewID uintptr

// IDOf returns a ViewID derived from the pointer identity of view,
// which must be a pointer (or an interface wrapping one, as is
// typical for platform view handles).
func IDOf(view interface{}) ViewID {
	v := reflect.ValueOf(view)
	if v.Kind() != reflect.Ptr {
		panic("loader: IDOf requires a pointer-kind view")
	}
	return ViewID(v.Pointer())
}

// ViewRef detects that a view has been collected by the Go runtime,
// the second cancellation source next to view reuse. Go's true
// weak-reference support (the weak package) postdates this module's
// go1.18 floor, so this emulates one with runtime.SetFinalizer: once
// the referent becomes unreachable and the runtime runs the
// finalizer, Collected reports true.
//
// A ViewRef is best-effort: the finalizer runs at the runtime's
// convenience, so Collected may lag the view's actual last use. Tasks
// must not rely on it alone; they also recheck Engine.keyForView at
// every checkpoint (view reuse, detected synchronously).
type ViewRef struct {
	dead int32 // atomic
}

// NewViewRef arranges for the returned ViewRef's Collected method to
// report true once view is garbage collected. view must not be
// retained anywhere the ViewRef itself is reachable from, or it will
// never become collectible.
func NewViewRef(view interface{}) *ViewRef {
	r := &ViewRef{}
	runtime.SetFinalizer(view, func(interface{}) {
		atomic.StoreInt32(&r.dead, 1)
	})
	return r
}

// Collected reports whether the referenced view has been garbage
// collected.
func (r *ViewRef) Collected() bool {
	if r == nil {
		return false
	}
	return atomic.LoadInt32(&r.dead) != 0
}
