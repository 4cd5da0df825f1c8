package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the IR hashing serialization format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// every cached artifact key.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing content hashes.
const HashVersion byte = 1

// Instruction tags.
const (
	TagReservedZero byte = 0x00

	TagMovePointer byte = 0x01
	TagAddCell     byte = 0x02
	TagSetCell     byte = 0x03
	TagOutput      byte = 0x04
	TagInput       byte = 0x05
	TagLoop        byte = 0x06
	TagScanMove    byte = 0x07
	TagTransfer    byte = 0x08

	// Reserved 0x09-0x1F

	TagProgram byte = 0x20
	TagSalt    byte = 0x21
)

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	TagReservedZero,
	TagMovePointer, TagAddCell, TagSetCell, TagOutput, TagInput,
	TagLoop, TagScanMove, TagTransfer,
	TagProgram, TagSalt,
}
