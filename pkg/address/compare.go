// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package address

import "bytes"

// tagRank orders the Address variants for Compare's first ordering key:
// tag, then lexicographic on canonicalized bytes, then prefix length.
func tagRank(a Address) int {
	switch a.(type) {
	case NoAddr:
		return 0
	case IP:
		return 1
	case IPPrefix:
		return 2
	case MulticastInfo:
		return 3
	case NatTraversal:
		return 4
	case InstanceID:
		return 5
	case AppData:
		return 6
	case ExplicitLocatorPath:
		return 7
	default:
		return 8
	}
}

// Compare implements the total order from spec §4.A: tag, then
// lexicographic comparison of canonicalized wire bytes, then prefix
// length. It returns -1, 0, or 1.
func Compare(a, b Address) int {
	ra, rb := tagRank(a), tagRank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}

	ba, bb := canonicalBytes(a), canonicalBytes(b)
	if c := bytes.Compare(ba, bb); c != 0 {
		return c
	}

	return cmpInt(plenOf(a), plenOf(b))
}

func plenOf(a Address) int {
	if p, ok := a.(IPPrefix); ok {
		return int(p.Plen)
	}
	return 0
}

// canonicalBytes renders the address bytes used for ordering/hashing,
// masking prefix bits to zero for IPPrefix as spec's canonicalization
// invariant requires.
func canonicalBytes(a Address) []byte {
	buf := make([]byte, a.SizeOnWire())
	switch v := a.(type) {
	case IPPrefix:
		canon := v.Canonical()
		n, err := Write(buf, IP{Addr: canon.Addr})
		if err != nil {
			return nil
		}
		return buf[:n]
	default:
		n, err := Write(buf, a)
		if err != nil {
			return nil
		}
		return buf[:n]
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
