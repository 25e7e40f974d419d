package chunk

import "iter"

// All returns an iterator over every Info in the metadata's chunk grid, in
// the order they were produced by BuildMetadata (row-major).
func (m Metadata) All() iter.Seq[Info] {
	return func(yield func(Info) bool) {
		for _, c := range m.Chunks {
			if !yield(c) {
				return
			}
		}
	}
}

// IDs returns an iterator over every chunk ID in the metadata's grid.
func (m Metadata) IDs() iter.Seq[ID] {
	return func(yield func(ID) bool) {
		for _, c := range m.Chunks {
			if !yield(c.ID()) {
				return
			}
		}
	}
}
