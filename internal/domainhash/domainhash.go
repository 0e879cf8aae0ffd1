// Package domainhash provides the personalized 32-byte hash used throughout
// the ballot chain: as the black-box domain hash combining frontier siblings
// (standing in for the protocol's real Sinsemilla commitment-tree hash) and
// as the rollup hash that produces the application hash published in the
// consensus header.
//
// blake2b is used because it natively supports a 16-byte personalization
// string (crypto/blake2b's Config.Person), which is exactly the width the
// protocol's "Zcash_Vote_CmBFT" constant requires.
package domainhash

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Size is the width, in bytes, of every hash produced by this package.
const Size = 32

// AppHashPersonalization is the exact 16-ASCII-byte personalization used to
// derive AppState.hash. Changing it requires a chain fork.
var AppHashPersonalization = mustPerson("Zcash_Vote_CmBFT")

// frontierPersonalization separates frontier-node hashing from the app-hash
// rollup so the two uses can never collide on input even if one day they
// were fed the same bytes.
var frontierPersonalization = mustPerson("Zcash_Vote_Frntr")

// SighashPersonalization separates ballot-sighash derivation from both of
// the above, for the same reason.
var SighashPersonalization = mustPerson("Zcash_Vote_SgHsh")

// ActionAggPersonalization separates the aggregate nullifier/commitment
// hash fed to the zero-knowledge proof's public inputs from every other
// use of this package.
var ActionAggPersonalization = mustPerson("Zcash_Vote_PubIn")

func mustPerson(s string) [16]byte {
	if len(s) != 16 {
		panic(fmt.Sprintf("domainhash: personalization %q must be exactly 16 bytes, got %d", s, len(s)))
	}
	var p [16]byte
	copy(p[:], s)
	return p
}

// Sum hashes parts under the given 16-byte personalization. Exported so
// callers outside this package (e.g. ballot sighash derivation) can mint
// their own domain-separated hash without duplicating the blake2b
// plumbing.
func Sum(person [16]byte, parts ...[]byte) [Size]byte {
	return sum(person, parts...)
}

func sum(person [16]byte, parts ...[]byte) [Size]byte {
	h, err := blake2b.New256(&blake2b.Config{Person: person[:]})
	if err != nil {
		// blake2b.New256 only errors on malformed Config; our Person is
		// always exactly 16 bytes, so this can never happen.
		panic(fmt.Sprintf("domainhash: blake2b init: %v", err))
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// MergeLeaf hashes a single note-commitment leaf into the frontier's domain,
// tagged with the given level so equal bytes at different tree levels never
// produce colliding internal-node hashes.
func MergeLeaf(level uint8, leaf [Size]byte) [Size]byte {
	return sum(frontierPersonalization, []byte{level}, leaf[:])
}

// Merge combines two sibling frontier nodes at the given level into their
// parent. This is the black-box stand-in for the project's real
// Pallas-curve Sinsemilla hash (spec §4.2): deterministic, 32-byte-in,
// 32-byte-out, independent of anything but (level, left, right).
func Merge(level uint8, left, right [Size]byte) [Size]byte {
	return sum(frontierPersonalization, []byte{level}, left[:], right[:])
}

// EmptyRoot returns the hash of an empty subtree of the given level, used to
// fill the unfilled portion of a frontier's root computation. Level 0 is an
// all-zero leaf; higher levels fold EmptyRoot(level-1) with itself.
func EmptyRoot(level uint8) [Size]byte {
	if level == 0 {
		var zero [Size]byte
		return zero
	}
	below := EmptyRoot(level - 1)
	return Merge(level-1, below, below)
}

// AppHash computes the deterministic 32-byte rollup of every election's tip
// commitment root (spec §4.5). Callers must pre-sort roots by election_id
// ascending; this function only concatenates and hashes.
func AppHash(sortedTipRoots [][Size]byte) [Size]byte {
	buf := make([]byte, 0, len(sortedTipRoots)*Size)
	for _, r := range sortedTipRoots {
		buf = append(buf, r[:]...)
	}
	return sum(AppHashPersonalization, buf)
}

// EncodeHeight renders a block height as a 4-byte big-endian key suffix,
// whose byte order matches numeric height order.
func EncodeHeight(height uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, height)
	return b
}
