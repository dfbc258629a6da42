package layout

import (
	"encoding/binary"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DeviceIDSizeBytes is the size of an NFSv4.1 deviceid4.
const DeviceIDSizeBytes = 16

// DeviceID is a small identifier under which a pool is announced to
// NFSv4.1 clients, so that layouts don't need to carry full network
// addresses. Identifiers are allocated sequentially and are never
// reused during the lifetime of the process.
type DeviceID uint32

// MetadataServerDeviceID is the reserved device ID that refers to the
// door itself. It is used for objects that are not stored on pools,
// such as control files.
const MetadataServerDeviceID DeviceID = 0

// NewDeviceIDFromBytes converts an NFSv4.1 deviceid4 back to a
// DeviceID. Only device IDs created by DeviceID.Bytes() are accepted.
func NewDeviceIDFromBytes(b []byte) (DeviceID, error) {
	if len(b) != DeviceIDSizeBytes {
		return 0, status.Errorf(codes.InvalidArgument, "Device ID is %d bytes in size, while %d bytes were expected", len(b), DeviceIDSizeBytes)
	}
	for _, c := range b[4:] {
		if c != 0 {
			return 0, status.Error(codes.InvalidArgument, "Device ID contains trailing non-zero bytes")
		}
	}
	return DeviceID(binary.BigEndian.Uint32(b)), nil
}

// Bytes returns the deviceid4 representation of the device ID. The
// identifier is stored big endian in the leading four bytes.
func (id DeviceID) Bytes() [DeviceIDSizeBytes]byte {
	var b [DeviceIDSizeBytes]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	return b
}

func (id DeviceID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}
