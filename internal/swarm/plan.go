package swarm

// chunkRange is a half-open byte range [Start, End) within the target file.
type chunkRange struct {
	Start int64
	End   int64
}

func (c chunkRange) len() int64 { return c.End - c.Start }

// effectiveChunkSize implements spec §4.3: the configured chunk_size is
// widened so the chunk count stays comfortably larger than the worker
// count, never narrowed below the configured size.
func effectiveChunkSize(size, chunkSize int64, numSources int) int64 {
	denom := int64(2 * numSources)
	if denom < 4 {
		denom = 4
	}
	byCount := (size + denom - 1) / denom
	if byCount > chunkSize {
		return byCount
	}
	return chunkSize
}

// planChunks partitions [0, size) into contiguous half-open ranges of at
// most chunkSize bytes each, indexed 0..N-1.
func planChunks(size, chunkSize int64) []chunkRange {
	if size <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = size
	}
	ranges := make([]chunkRange, 0, (size+chunkSize-1)/chunkSize)
	for start := int64(0); start < size; start += chunkSize {
		end := start + chunkSize
		if end > size {
			end = size
		}
		ranges = append(ranges, chunkRange{Start: start, End: end})
	}
	return ranges
}
