package fs

import "fmt"

// Identity identifies a file's physical extent on a volume independent of
// its current name: the volume serial number and file index on Windows,
// the device and inode number on Unix.
type Identity struct {
	Volume    uint64 `json:"volume" yaml:"volume"`
	IndexHigh uint32 `json:"index_high" yaml:"index_high"`
	IndexLow  uint32 `json:"index_low" yaml:"index_low"`
}

// IdentityFromIndex splits a 64-bit file index into its high and low words.
func IdentityFromIndex(volume, index uint64) Identity {
	return Identity{
		Volume:    volume,
		IndexHigh: uint32(index >> 32),
		IndexLow:  uint32(index),
	}
}

// Index returns the 64-bit file index.
func (id Identity) Index() uint64 {
	return uint64(id.IndexHigh)<<32 | uint64(id.IndexLow)
}

func (id Identity) String() string {
	return fmt.Sprintf("volume = %x id_high = %x id_low = %x", id.Volume, id.IndexHigh, id.IndexLow)
}
