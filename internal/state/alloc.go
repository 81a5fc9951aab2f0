package state

import (
	"errors"
	"fmt"
	"net"
)

// ErrPoolExhausted is returned when no host addresses remain in the subnet.
var ErrPoolExhausted = errors.New("address pool exhausted")

// Valid host octets. .0 and .1 are reserved for the network and the gateway
// by convention, .255 is broadcast.
const (
	firstHost = 2
	lastHost  = 254
)

// allocateAddress hands out the next free /32 address from the subnet and
// advances the cursor past it. The cursor always moves forward, even if the
// surrounding operation later fails: a wasted address is cheaper than ever
// handing the same one out twice.
//
// Only IPv4 /24 subnets are supported; anything else is a configuration
// error, not a retryable condition.
func allocateAddress(st *ServerState) (string, error) {
	_, ipnet, err := net.ParseCIDR(st.SubnetCIDR)
	if err != nil {
		return "", fmt.Errorf("parse subnet %q: %w", st.SubnetCIDR, err)
	}

	base := ipnet.IP.To4()
	if base == nil {
		return "", fmt.Errorf("subnet %s: only IPv4 supported", st.SubnetCIDR)
	}
	if ones, _ := ipnet.Mask.Size(); ones != 24 {
		return "", fmt.Errorf("subnet %s: only /24 supported by allocator", st.SubnetCIDR)
	}

	for {
		if st.NextHost < firstHost || st.NextHost > lastHost {
			return "", ErrPoolExhausted
		}
		cand := net.IPv4(base[0], base[1], base[2], byte(st.NextHost))
		if cand.String() == st.ServerIP {
			// The gateway occupies this address permanently.
			st.NextHost++
			continue
		}
		st.NextHost++
		return cand.String() + "/32", nil
	}
}
