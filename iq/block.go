package iq

// Block is a run of interleaved I/Q pairs held by exactly one pipeline stage at
// a time. Data is only meaningful together with the Format it was produced in.
type Block struct {
	// Seq counts blocks from the start of a run, starting at 0.
	Seq uint64
	// Offset is the byte offset of Data[0] within the sample stream.
	Offset int64
	Data   []byte
}

// Pairs returns the number of whole pairs in b when read as format f.
func (b Block) Pairs(f Format) int {
	w := f.PairWidth()
	if w == 0 {
		return 0
	}
	return len(b.Data) / w
}

// Fill makes a block of n pairs of silence in format f.
func Fill(f Format, n int) Block {
	silence := f.Silence()
	data := make([]byte, 0, n*len(silence))
	for i := 0; i < n; i++ {
		data = append(data, silence...)
	}
	return Block{Data: data}
}
