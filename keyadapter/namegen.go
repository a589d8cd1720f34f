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

package keyadapter

import (
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// NameGenerator maps a free-form identifier (typically a URI) to a
// key in the disk cache's [a-z0-9_-]{1,64} alphabet. Collisions are
// the generator's responsibility.
type NameGenerator interface {
	Generate(id string) string
}

// blake2bNames hashes identifiers down to a fixed 64-character hex
// key. blake2b is faster than sha2 for this and the digest width
// fills the key alphabet's full 64 characters exactly.
type blake2bNames struct{}

// NewBlake2bNameGenerator returns the default NameGenerator.
func NewBlake2bNameGenerator() NameGenerator { return blake2bNames{} }

func (blake2bNames) Generate(id string) string {
	var h hash.Hash
	h, _ = blake2b.New256(nil)
	h.Write([]byte(id))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum) // 32 bytes -> 64 lowercase hex chars
}
