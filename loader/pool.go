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

import "sync"

// pool is a bounded-concurrency executor backed by a buffered
// semaphore channel. submit spawns one goroutine per task (rather
// than a fixed worker pool reading a task channel) so a slow task
// never blocks unrelated ones from acquiring a free slot out of
// order; weight lets a single task occupy more than one slot, which
// is how Engine.HandleSlowNetwork throttles the uncached pool without
// resizing the channel.
type pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func newPool(size int) *pool {
	if size < 1 {
		size = 1
	}
	return &pool{sem: make(chan struct{}, size)}
}

// submit acquires weight slots (blocking until available) and runs
// task in a new goroutine, releasing the slots on return.
func (p *pool) submit(weight int, task func()) {
	if weight < 1 {
		weight = 1
	}
	for i := 0; i < weight; i++ {
		p.sem <- struct{}{}
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			for i := 0; i < weight; i++ {
				<-p.sem
			}
		}()
		task()
	}()
}

// wait blocks until every task submitted so far has returned.
func (p *pool) wait() { p.wg.Wait() }
