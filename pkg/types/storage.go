package types

// Sizer reports the logical number of live records. The tag index sizes itself from it.
type Sizer interface {
	Size() int
}

// OffsetStore maps record ids to physical locations.
// Get returns nil without an error when the record is absent or deleted.
type OffsetStore interface {
	Sizer

	Upsert(id uint32, rec OffsetRecord) error
	Get(id uint32) (*OffsetRecord, error)
	Remove(id uint32) error

	Version() uint32
	MaxRecordID() uint32
	Close() error
}
