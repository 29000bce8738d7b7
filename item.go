package mcz

// Item is the accessor surface the core needs from a host cache's
// stored item. The core touches only these two flag bits and the
// dictionary id field; everything else about an item's representation
// is the cache's concern.
type Item interface {
	// Compressed reports the item's "compressed" flag bit.
	Compressed() bool
	// SetCompressed sets the item's "compressed" flag bit.
	SetCompressed(bool)
	// Chunked reports the item's "chunked" flag bit. A chunked item is
	// never compressed or decompressed by the core.
	Chunked() bool
	// DictID returns the stored 16-bit dictionary id, or 0 for "no dict".
	DictID() uint16
	// SetDictID stores the 16-bit dictionary id.
	SetDictID(uint16)
}

// Status is the outcome of MaybeCompress/MaybeDecompress.
type Status int

const (
	// StatusStored means the returned bytes are the compressed frame and
	// dict id to persist alongside the item.
	StatusStored Status = iota
	// StatusNoOp means the caller should store/return the original value
	// unchanged (MaybeCompress returns nil bytes and dict id 0, per
	// spec.md §4.8; MaybeDecompress returns the stored bytes as given).
	StatusNoOp
	// StatusError means a codec error or a dictionary-id miss occurred;
	// for decompression this is a stored-data-loss event the caller must
	// surface, not retry.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusStored:
		return "stored"
	case StatusNoOp:
		return "no_op"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}
