package badger

import "encoding/binary"

// Key Layout
// ==========
//
// Each allocated block is one key:
//
//	blk/<index as 8 bytes big-endian>  ->  block contents (exactly BlockSize bytes)
//
// Big-endian indices sort in block order, so a prefix iterator walks the
// export front to back. A missing key is a hole and reads as zeros. The
// block size is recorded once under "meta/block_size" and checked on open.

const (
	prefixBlock  = "blk/"
	keyBlockSize = "meta/block_size"
)

func blockKey(index uint64) []byte {
	key := make([]byte, len(prefixBlock)+8)
	copy(key, prefixBlock)
	binary.BigEndian.PutUint64(key[len(prefixBlock):], index)
	return key
}

// blockIndex decodes a key produced by blockKey.
func blockIndex(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(prefixBlock):])
}
