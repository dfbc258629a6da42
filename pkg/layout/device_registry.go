package layout

import (
	"log"
	"math"
	"net/netip"
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	deviceRegistryPrometheusMetrics sync.Once

	deviceRegistryDevicesAllocated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "pnfs",
			Name:      "device_registry_devices_allocated_total",
			Help:      "Number of device IDs allocated for pools.",
		})
	deviceRegistryDevicesRetired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "pnfs",
			Name:      "device_registry_devices_retired_total",
			Help:      "Number of device IDs retired, due to pools announcing different addresses.",
		})
)

// DeviceRegistry keeps track of the device IDs that have been handed
// out for pools. It maintains a mapping from pool name to the pool's
// current endpoint, and a mapping from device ID to endpoint. Both
// maps are only mutated while holding the write lock, meaning readers
// always observe them in a consistent state.
type DeviceRegistry struct {
	lock              sync.RWMutex
	lastDeviceID      DeviceID
	endpointsByPool   map[string]*PoolEndpoint
	endpointsByDevice map[DeviceID]*PoolEndpoint
}

// NewDeviceRegistry creates a DeviceRegistry that does not contain any
// pools.
func NewDeviceRegistry() *DeviceRegistry {
	deviceRegistryPrometheusMetrics.Do(func() {
		prometheus.MustRegister(deviceRegistryDevicesAllocated)
		prometheus.MustRegister(deviceRegistryDevicesRetired)
	})

	return &DeviceRegistry{
		endpointsByPool:   map[string]*PoolEndpoint{},
		endpointsByDevice: map[DeviceID]*PoolEndpoint{},
	}
}

// ResolveOrAllocate returns the endpoint of a pool listening on a
// given set of addresses. If the pool is already known under the same
// addresses, its existing endpoint is returned. Otherwise a new device
// ID is allocated. The device ID of a pool that previously listened
// on other addresses is retired.
func (r *DeviceRegistry) ResolveOrAllocate(poolName string, addresses []netip.AddrPort) (*PoolEndpoint, error) {
	if poolName == "" {
		return nil, status.Error(codes.InvalidArgument, "No pool name provided")
	}
	if err := validateAddresses(addresses); err != nil {
		return nil, err
	}

	// Fast path: the pool is known under the same addresses.
	r.lock.RLock()
	endpoint, ok := r.endpointsByPool[poolName]
	r.lock.RUnlock()
	if ok && endpoint.hasAddresses(addresses) {
		return endpoint, nil
	}

	addresses = append([]netip.AddrPort(nil), addresses...)
	deviceAddress := encodeDeviceAddress(addresses)

	r.lock.Lock()
	defer r.lock.Unlock()

	// Another caller may have registered the same addresses while
	// we weren't holding the lock.
	oldEndpoint, ok := r.endpointsByPool[poolName]
	if ok && oldEndpoint.hasAddresses(addresses) {
		return oldEndpoint, nil
	}
	if r.lastDeviceID == math.MaxUint32 {
		return nil, status.Error(codes.ResourceExhausted, "Device IDs exhausted")
	}
	r.lastDeviceID++
	newEndpoint := newPoolEndpoint(poolName, r.lastDeviceID, addresses, deviceAddress)
	if ok {
		delete(r.endpointsByDevice, oldEndpoint.deviceID)
		deviceRegistryDevicesRetired.Inc()
		log.Printf("Pool %#v changed addresses, retiring device ID %s", poolName, oldEndpoint.deviceID)
	}
	r.endpointsByPool[poolName] = newEndpoint
	r.endpointsByDevice[newEndpoint.deviceID] = newEndpoint
	deviceRegistryDevicesAllocated.Inc()
	log.Printf("Pool %#v mapped to %s", poolName, newEndpoint)
	return newEndpoint, nil
}

// Lookup the endpoint corresponding to a device ID. Retired device IDs
// cannot be looked up.
func (r *DeviceRegistry) Lookup(deviceID DeviceID) (*PoolEndpoint, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	endpoint, ok := r.endpointsByDevice[deviceID]
	return endpoint, ok
}

// ListKnownDeviceIDs returns the device IDs of all pools, in ascending
// order.
func (r *DeviceRegistry) ListKnownDeviceIDs() []DeviceID {
	r.lock.RLock()
	deviceIDs := make([]DeviceID, 0, len(r.endpointsByDevice))
	for deviceID := range r.endpointsByDevice {
		deviceIDs = append(deviceIDs, deviceID)
	}
	r.lock.RUnlock()

	slices.Sort(deviceIDs)
	return deviceIDs
}

// Endpoints returns the current endpoints of all pools, sorted by pool
// name.
func (r *DeviceRegistry) Endpoints() []*PoolEndpoint {
	r.lock.RLock()
	endpoints := make([]*PoolEndpoint, 0, len(r.endpointsByPool))
	for _, endpoint := range r.endpointsByPool {
		endpoints = append(endpoints, endpoint)
	}
	r.lock.RUnlock()

	slices.SortFunc(endpoints, func(a, b *PoolEndpoint) int {
		return strings.Compare(a.poolName, b.poolName)
	})
	return endpoints
}
