package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMAC(t *testing.T) {
	want := [6]byte{0xAA, 0xBB, 0xCC, 0x11, 0x22, 0x33}

	cases := []string{
		"AA:BB:CC:11:22:33",
		"aa:bb:cc:11:22:33",
		"AA-BB-CC-11-22-33",
		"AABB.CC11.2233",
		"AABBCC112233",
	}
	for _, c := range cases {
		got, err := ParseMAC(c)
		require.NoError(t, err, c)
		assert.Equal(t, want, got, c)
	}
}

func TestParseMAC_Invalid(t *testing.T) {
	for _, c := range []string{"", "AA:BB:CC", "not-a-mac", "AA:BB:CC:11:22:ZZ"} {
		_, err := ParseMAC(c)
		assert.Error(t, err, c)
	}
}

func TestBuildMagicPacket(t *testing.T) {
	mac := [6]byte{1, 2, 3, 4, 5, 6}
	packet := buildMagicPacket(mac)
	require.Len(t, packet, 102)
	for i := 0; i < 6; i++ {
		assert.Equal(t, byte(0xFF), packet[i])
	}
	for block := 0; block < 16; block++ {
		offset := 6 + block*6
		assert.Equal(t, mac[:], packet[offset:offset+6])
	}
}

func TestBroadcastAddressForHost(t *testing.T) {
	assert.Equal(t, "192.168.1.255", BroadcastAddressForHost("192.168.1.42"))
	assert.Equal(t, "255.255.255.255", BroadcastAddressForHost("nas.local"))
	assert.Equal(t, "255.255.255.255", BroadcastAddressForHost("::1"))
}
