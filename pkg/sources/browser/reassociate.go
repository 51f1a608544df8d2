package browser

// Ref identifies a listed item across re-listings: its position and an
// identity key derived from its content.
type Ref struct {
	Index int
	Key   string
}

// Reassociate locates ref in a fresh listing given as identity keys. The same
// index with the same key wins; otherwise the first position holding the key.
// ok is false when the key is no longer listed.
func Reassociate(keys []string, ref Ref) (int, bool) {
	if ref.Index >= 0 && ref.Index < len(keys) && keys[ref.Index] == ref.Key {
		return ref.Index, true
	}
	for i, k := range keys {
		if k == ref.Key {
			return i, true
		}
	}
	return -1, false
}
