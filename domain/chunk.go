package domain

// ChunkPlan splits a large file into fixed-size byte ranges and tracks
// which of them the server has acknowledged. Chunks are transferred
// strictly in order, so the confirmed prefix is the resume point after
// a pause, a crash, or a reload.
type ChunkPlan struct {
	ChunkSize int64  `json:"chunk_size"`
	Total     int    `json:"total"`
	Confirmed []bool `json:"confirmed"`
}

// NewChunkPlan lays out totalBytes into ceil(totalBytes/chunkSize) ranges.
func NewChunkPlan(totalBytes, chunkSize int64) *ChunkPlan {
	total := int((totalBytes + chunkSize - 1) / chunkSize)
	return &ChunkPlan{
		ChunkSize: chunkSize,
		Total:     total,
		Confirmed: make([]bool, total),
	}
}

// NextChunk returns the first unconfirmed chunk index, or Total when
// every chunk is confirmed.
func (p *ChunkPlan) NextChunk() int {
	for i, ok := range p.Confirmed {
		if !ok {
			return i
		}
	}
	return p.Total
}

func (p *ChunkPlan) Confirm(index int) {
	if index >= 0 && index < len(p.Confirmed) {
		p.Confirmed[index] = true
	}
}

func (p *ChunkPlan) AllConfirmed() bool {
	return p.NextChunk() == p.Total
}

// Range returns the byte offset and length of chunk index within a file
// of totalBytes. The last chunk is usually shorter.
func (p *ChunkPlan) Range(index int, totalBytes int64) (offset, length int64) {
	offset = int64(index) * p.ChunkSize
	length = p.ChunkSize
	if offset+length > totalBytes {
		length = totalBytes - offset
	}
	return offset, length
}

// ConfirmedBytes counts bytes in confirmed chunks, capped at totalBytes
// because the final chunk is usually shorter than ChunkSize.
func (p *ChunkPlan) ConfirmedBytes(totalBytes int64) int64 {
	var confirmed int64
	for _, ok := range p.Confirmed {
		if ok {
			confirmed++
		}
	}
	n := confirmed * p.ChunkSize
	if n > totalBytes {
		n = totalBytes
	}
	return n
}

func (p *ChunkPlan) clone() *ChunkPlan {
	c := *p
	c.Confirmed = make([]bool, len(p.Confirmed))
	copy(c.Confirmed, p.Confirmed)
	return &c
}
