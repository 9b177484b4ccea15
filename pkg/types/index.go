package types

const (
	OffsetRecordSize = 25 // status(1) + block id(4) + offset(8) + length(4) + updated(8)
	TagSlotSize      = 32 // status(1) + reserved(3) + block id(4) + block offset(4) + tag(20)
	MaxTagLength     = 19
)

// Status is the lifecycle state of an offset index slot.
type Status uint8

const (
	StatusNull    Status = 0
	StatusNormal  Status = 1
	StatusDeleted Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusNull:
		return "null"
	case StatusNormal:
		return "normal"
	case StatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// OffsetRecord is the physical location of one metadata record.
type OffsetRecord struct {
	Status  Status
	BlockID int32
	Offset  int64
	Length  int32
	Updated int64 // unix millis
}

// TagLocation is what the tag index stores for a tag.
type TagLocation struct {
	BlockID     int32
	BlockOffset int32
}
