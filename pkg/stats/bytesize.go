package stats

// ByteSize reports memory consumption of an index component.
//
// The immutable arrays are grown with slack capacity, so the amount of
// memory allocated differs from the amount actually holding entries.
// Counting only used bytes would understate the footprint; both numbers
// are reported.
type ByteSize struct {
	Allocated uint64
	Used      uint64
}

// Add accumulates another ByteSize into this one and returns the sum
func (b ByteSize) Add(other ByteSize) ByteSize {
	return ByteSize{
		Allocated: b.Allocated + other.Allocated,
		Used:      b.Used + other.Used,
	}
}
