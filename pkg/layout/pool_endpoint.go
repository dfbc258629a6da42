package layout

import (
	"net/netip"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PoolEndpoint is the immutable binding between a pool, the socket
// addresses on which its movers accept connections, and the device ID
// announced to clients. A new PoolEndpoint is created whenever a pool
// shows up with a different set of addresses.
type PoolEndpoint struct {
	poolName      string
	deviceID      DeviceID
	addresses     []netip.AddrPort
	deviceAddress []byte
}

func newPoolEndpoint(poolName string, deviceID DeviceID, addresses []netip.AddrPort, deviceAddress []byte) *PoolEndpoint {
	return &PoolEndpoint{
		poolName:      poolName,
		deviceID:      deviceID,
		addresses:     addresses,
		deviceAddress: deviceAddress,
	}
}

// NewMetadataServerEndpoint creates a PoolEndpoint for the reserved
// device ID zero, pointing at the address of the door itself.
func NewMetadataServerEndpoint(address netip.AddrPort) (*PoolEndpoint, error) {
	addresses := []netip.AddrPort{address}
	if err := validateAddresses(addresses); err != nil {
		return nil, err
	}
	return newPoolEndpoint("", MetadataServerDeviceID, addresses, encodeDeviceAddress(addresses)), nil
}

// PoolName returns the name of the pool. The name is empty for the
// endpoint of the metadata server.
func (e *PoolEndpoint) PoolName() string {
	return e.poolName
}

// DeviceID returns the device ID under which the endpoint is
// announced to clients.
func (e *PoolEndpoint) DeviceID() DeviceID {
	return e.deviceID
}

// Addresses returns the socket addresses of the endpoint, in the
// order in which the pool announced them.
func (e *PoolEndpoint) Addresses() []netip.AddrPort {
	return append([]netip.AddrPort(nil), e.addresses...)
}

// DeviceAddress returns the XDR encoded nfsv4_1_file_layout_ds_addr4
// that is returned by GETDEVICEINFO.
func (e *PoolEndpoint) DeviceAddress() []byte {
	return e.deviceAddress
}

func (e *PoolEndpoint) hasAddresses(addresses []netip.AddrPort) bool {
	if len(e.addresses) != len(addresses) {
		return false
	}
	for i, address := range addresses {
		if e.addresses[i] != address {
			return false
		}
	}
	return true
}

func (e *PoolEndpoint) String() string {
	var sb strings.Builder
	sb.WriteString("DS: ")
	sb.WriteString(e.deviceID.String())
	sb.WriteString(", addresses: [")
	for i, address := range e.addresses {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(address.String())
	}
	sb.WriteString("]")
	return sb.String()
}

func validateAddresses(addresses []netip.AddrPort) error {
	if len(addresses) == 0 {
		return status.Error(codes.InvalidArgument, "No addresses provided")
	}
	for _, address := range addresses {
		if !address.IsValid() || address.Port() == 0 {
			return status.Errorf(codes.InvalidArgument, "Invalid address %#v", address.String())
		}
	}
	return nil
}
