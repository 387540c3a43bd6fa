package protocol

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/arkeepbackup/backupd/internal/configstore"
)

// wolPort is the conventional Wake-on-LAN UDP port (§4.4).
const wolPort = 9

// ParseMAC accepts the common MAC notations seen across NAS/workstation admin
// panels: colon- and dash-separated hex, dot-separated (Cisco-style) triples,
// and unseparated 12-hex-digit strings. It always returns the 6 raw bytes.
func ParseMAC(s string) ([6]byte, error) {
	var out [6]byte

	cleaned := strings.NewReplacer(":", "", "-", "", ".", "").Replace(s)
	if len(cleaned) != 12 {
		return out, fmt.Errorf("protocol: %q is not a valid MAC address", s)
	}
	for i := 0; i < 6; i++ {
		b, err := strconv.ParseUint(cleaned[i*2:i*2+2], 16, 8)
		if err != nil {
			return out, fmt.Errorf("protocol: %q is not a valid MAC address: %w", s, err)
		}
		out[i] = byte(b)
	}
	return out, nil
}

// buildMagicPacket constructs the standard 102-byte WoL payload: 6 bytes of
// 0xFF followed by the target MAC address repeated 16 times (§4.4).
func buildMagicPacket(mac [6]byte) []byte {
	packet := make([]byte, 0, 102)
	for i := 0; i < 6; i++ {
		packet = append(packet, 0xFF)
	}
	for i := 0; i < 16; i++ {
		packet = append(packet, mac[:]...)
	}
	return packet
}

// SendMagicPacket broadcasts a magic packet for mac to broadcastAddr (an IPv4
// broadcast address, e.g. "192.168.1.255" or "255.255.255.255") on the
// Wake-on-LAN port. It fires once and does not wait for the device to
// actually wake; the orchestrator waits WakeWait and then retries Mount
// with backoff.
func SendMagicPacket(macAddr, broadcastAddr string) error {
	mac, err := ParseMAC(macAddr)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(broadcastAddr, strconv.Itoa(wolPort))
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("protocol: failed to resolve broadcast address %s: %w", addr, err)
	}

	conn, err := net.DialUDP("udp4", nil, udpAddr)
	if err != nil {
		return fmt.Errorf("protocol: failed to dial %s: %w", addr, err)
	}
	defer conn.Close()

	packet := buildMagicPacket(mac)
	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("protocol: failed to send magic packet to %s: %w", addr, err)
	}
	return nil
}

// wolCapable implements the Driver.WakeDevice/SupportsWOL contract; every
// driver embeds it since WOL is a network primitive independent of mount
// transport, but §4.5 still specifies it per-driver.
type wolCapable struct{}

func (wolCapable) SupportsWOL() bool { return true }

func (wolCapable) WakeDevice(ctx context.Context, device configstore.Device) error {
	if !device.WakeOnLANEnabled || device.WakeOnLANMAC == "" {
		return nil
	}
	return SendMagicPacket(device.WakeOnLANMAC, BroadcastAddressForHost(device.Host))
}

// BroadcastAddressForHost derives a best-effort subnet broadcast address from
// a device's configured host: when host is already a dotted IPv4 address, it
// substitutes .255 for the last octet; any other form (hostname, IPv6) falls
// back to the limited broadcast address. Deployments needing a precise subnet
// broadcast should configure Device.Host as an IPv4 address.
func BroadcastAddressForHost(host string) string {
	ip := net.ParseIP(host)
	if ip == nil {
		return "255.255.255.255"
	}
	v4 := ip.To4()
	if v4 == nil {
		return "255.255.255.255"
	}
	return fmt.Sprintf("%d.%d.%d.255", v4[0], v4[1], v4[2])
}
