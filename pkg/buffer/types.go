package buffer

// Key is the totally ordered key type of the index. Models are trained
// over its numeric value, so keys must map monotonically to float64.
type Key uint64

// Value is the opaque payload stored against a key
type Value []byte

// Entry is a key-value pair with a deletion marker. A tombstone records
// a logical delete without touching the slot that may still hold the key
// in a group's immutable array.
type Entry struct {
	Key       Key
	Value     Value
	Tombstone bool
}

// Size returns the approximate size of the entry in memory
func (e Entry) Size() int64 {
	return 8 + int64(len(e.Value)) + 1
}
