package layout

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/buildbarn/go-xdr/pkg/protocols/nfsv4"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// Flags and stripe unit size stored in nfl_util4, as documented
	// in RFC 8881, section 13.3.
	fileLayoutCommitThroughMDS = 0x00000002
	fileLayoutStripeUnitMask   = 0xffffffc0
	fileLayoutStripeUnitSize   = 4 * 1024 * 1024
)

// EncodeHandshake converts a state ID to the opaque handshake that is
// sent to pools as part of a mover request. Pools return it unmodified
// as part of mover events, so that the events can be correlated with
// the session that started the mover.
func EncodeHandshake(stateID nfsv4.Stateid4) []byte {
	b := bytes.NewBuffer(nil)
	stateID.WriteTo(b)
	return b.Bytes()
}

// DecodeHandshake extracts the state ID from a handshake that was
// created by EncodeHandshake().
func DecodeHandshake(handshake []byte) (nfsv4.Stateid4, error) {
	var stateID nfsv4.Stateid4
	r := bytes.NewReader(handshake)
	if _, err := stateID.ReadFrom(r); err != nil {
		return nfsv4.Stateid4{}, status.Errorf(codes.InvalidArgument, "Failed to decode state ID from handshake: %s", err)
	}
	if r.Len() != 0 {
		return nfsv4.Stateid4{}, status.Errorf(codes.InvalidArgument, "Handshake contains %d trailing bytes", r.Len())
	}
	return stateID, nil
}

// FormatStateID returns a human readable representation of a state
// ID, used in log messages and diagnostics.
func FormatStateID(stateID nfsv4.Stateid4) string {
	return fmt.Sprintf("%d:%x", stateID.Seqid, stateID.Other)
}

// ParseStateID is the inverse of FormatStateID().
func ParseStateID(s string) (nfsv4.Stateid4, error) {
	seqid, other, ok := strings.Cut(s, ":")
	if !ok {
		return nfsv4.Stateid4{}, status.Errorf(codes.InvalidArgument, "State ID %#v does not contain a sequence ID", s)
	}
	parsedSeqid, err := strconv.ParseUint(seqid, 10, 32)
	if err != nil {
		return nfsv4.Stateid4{}, status.Errorf(codes.InvalidArgument, "Invalid sequence ID in state ID %#v", s)
	}
	stateID := nfsv4.Stateid4{Seqid: nfsv4.Seqid4(parsedSeqid)}
	if len(other) != hex.EncodedLen(len(stateID.Other)) {
		return nfsv4.Stateid4{}, status.Errorf(codes.InvalidArgument, "Opaque part of state ID %#v has length %d, while %d was expected", s, len(other), hex.EncodedLen(len(stateID.Other)))
	}
	if _, err := hex.Decode(stateID.Other[:], []byte(other)); err != nil {
		return nfsv4.Stateid4{}, status.Errorf(codes.InvalidArgument, "Invalid opaque part in state ID %#v", s)
	}
	return stateID, nil
}

// universalAddress converts a socket address to an RFC 5665 netid
// and universal address pair.
func universalAddress(address netip.AddrPort) (string, string) {
	addr := address.Addr().Unmap()
	port := address.Port()
	if addr.Is4() {
		a := addr.As4()
		return "tcp", fmt.Sprintf("%d.%d.%d.%d.%d.%d", a[0], a[1], a[2], a[3], port>>8, port&0xff)
	}
	return "tcp6", fmt.Sprintf("%s.%d.%d", addr.WithZone("").String(), port>>8, port&0xff)
}

// encodeDeviceAddress creates an nfsv4_1_file_layout_ds_addr4 for a
// pool. All addresses of the pool are placed in a single multipath
// list, which is referenced by the only stripe.
func encodeDeviceAddress(addresses []netip.AddrPort) []byte {
	b := bytes.NewBuffer(nil)
	nfsv4.WriteUint32T(b, 1)
	nfsv4.WriteUint32T(b, 0)

	nfsv4.WriteUint32T(b, 1)
	nfsv4.WriteUint32T(b, nfsv4.Uint32T(len(addresses)))
	for _, address := range addresses {
		netID, uaddr := universalAddress(address)
		netAddr := nfsv4.Netaddr4{
			NaRNetid: netID,
			NaRAddr:  uaddr,
		}
		netAddr.WriteTo(b)
	}
	return b.Bytes()
}

// encodeFileLayout creates an nfsv4_1_file_layout4 that directs all
// I/O against a file handle to a single device.
func encodeFileLayout(deviceID DeviceID, fileHandle []byte) []byte {
	b := bytes.NewBuffer(nil)
	deviceIDBytes := deviceID.Bytes()
	b.Write(deviceIDBytes[:])
	nfsv4.WriteUint32T(b, (fileLayoutStripeUnitSize&fileLayoutStripeUnitMask)|fileLayoutCommitThroughMDS)
	nfsv4.WriteUint32T(b, 0)
	nfsv4.WriteUint64T(b, 0)
	nfsv4.WriteUint32T(b, 1)
	nfsv4.WriteNfsFh4(b, fileHandle)
	return b.Bytes()
}

// ErrorToNfsstat4 converts an error returned by LayoutBroker to an
// NFSv4.1 status code, so that protocol layers can report it.
func ErrorToNfsstat4(err error) nfsv4.Nfsstat4 {
	if err == nil {
		return nfsv4.NFS4_OK
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted:
		return nfsv4.NFS4ERR_LAYOUTTRYLATER
	case codes.NotFound:
		return nfsv4.NFS4ERR_NOENT
	case codes.InvalidArgument:
		return nfsv4.NFS4ERR_INVAL
	case codes.DeadlineExceeded:
		return nfsv4.NFS4ERR_DELAY
	case codes.FailedPrecondition:
		// The state ID is already in use for another file.
		return nfsv4.NFS4ERR_BAD_STATEID
	case codes.Internal:
		return nfsv4.NFS4ERR_SERVERFAULT
	default:
		return nfsv4.NFS4ERR_IO
	}
}
