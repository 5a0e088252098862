// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package wire

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cilium/lispd/pkg/address"
	"github.com/cilium/lispd/pkg/lisperr"
	"github.com/cilium/lispd/pkg/mapping"
)

func ip(s string) address.Address {
	return address.IP{Addr: netip.MustParseAddr(s)}
}

func TestMapRequestRoundTrip(t *testing.T) {
	m := MapRequest{
		SMR:       true,
		Nonce:     0xdeadbeefcafef00d,
		SourceEID: ip("2001:db8::1"),
		ITRRLOCs:  []address.Address{ip("192.0.2.1")},
		Records: []EIDRecord{
			{MaskLen: 32, EID: ip("198.51.100.0")},
		},
	}
	buf := make([]byte, m.Size())
	n, err := m.Encode(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	got, n2, err := DecodeMapRequest(buf)
	require.NoError(t, err)
	require.Equal(t, n, n2)
	require.Equal(t, m.Nonce, got.Nonce)
	require.True(t, got.SMR)
	require.False(t, got.Probe)
	require.Len(t, got.Records, 1)
	require.Equal(t, "198.51.100.0", got.Records[0].EID.String())
}

func TestMapReplyRoundTripWithLocators(t *testing.T) {
	r := MapReply{
		Nonce: 42,
		Records: []MappingRecord{
			{
				TTL:     1440,
				MaskLen: 24,
				Action:  mapping.ActionNoAction,
				EID:     ip("10.0.0.0"),
				Locators: []LocatorRecord{
					{Priority: 1, Weight: 100, Reachable: true, Locator: ip("192.0.2.1")},
					{Priority: 2, Weight: 50, Locator: ip("192.0.2.2")},
				},
			},
		},
	}
	buf := make([]byte, r.Size())
	n, err := r.Encode(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	got, _, err := DecodeMapReply(buf)
	require.NoError(t, err)
	require.Len(t, got.Records, 1)
	require.Len(t, got.Records[0].Locators, 2)
	require.True(t, got.Records[0].Locators[0].Reachable)
	require.Equal(t, uint8(100), got.Records[0].Locators[0].Weight)
}

func TestMapReplyNegativeRecord(t *testing.T) {
	r := MapReply{
		Nonce: 7,
		Records: []MappingRecord{
			{TTL: 60, MaskLen: 24, Action: mapping.ActionDrop, EID: ip("192.0.2.0")},
		},
	}
	buf := make([]byte, r.Size())
	_, err := r.Encode(buf)
	require.NoError(t, err)

	got, _, err := DecodeMapReply(buf)
	require.NoError(t, err)
	require.Empty(t, got.Records[0].Locators)
	require.Equal(t, mapping.ActionDrop, got.Records[0].Action)
}

func TestMapRegisterRoundTripWithAuth(t *testing.T) {
	m := MapRegister{
		ProxyReply: true,
		registerCommon: registerCommon{
			Nonce:    0,
			KeyID:    KeyIDHMACSHA1,
			AuthData: make([]byte, 12),
			Records: []MappingRecord{
				{TTL: 1440, MaskLen: 24, EID: ip("10.0.0.0"), Locators: []LocatorRecord{
					{Priority: 1, Weight: 100, Locator: ip("192.0.2.1")},
				}},
			},
		},
	}
	buf := make([]byte, m.Size())
	_, err := m.Encode(buf)
	require.NoError(t, err)

	key := []byte("test-psk")
	mac, err := Compute(KeyIDHMACSHA1, key, buf)
	require.NoError(t, err)
	copy(buf[registerHeaderLen:registerHeaderLen+12], mac)

	got, _, err := DecodeMapRegister(buf)
	require.NoError(t, err)
	require.True(t, got.ProxyReply)

	zeroed := ZeroAuthData(buf, 12)
	ok, err := Verify(KeyIDHMACSHA1, key, zeroed, got.AuthData)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMapRegisterWithXTRID(t *testing.T) {
	m := MapRegister{
		registerCommon: registerCommon{
			XTRIDPresent: true,
			RTR:          true,
			Nonce:        12345,
			SiteID:       999,
			Records: []MappingRecord{
				{TTL: 60, MaskLen: 32, EID: ip("10.0.0.1")},
			},
		},
	}
	m.XTRID[0] = 0xAB
	buf := make([]byte, m.Size())
	_, err := m.Encode(buf)
	require.NoError(t, err)

	got, _, err := DecodeMapRegister(buf)
	require.NoError(t, err)
	require.True(t, got.RTR)
	require.Equal(t, uint64(999), got.SiteID)
	require.Equal(t, byte(0xAB), got.XTRID[0])
}

func TestMapNotifyRoundTrip(t *testing.T) {
	n := MapNotify{registerCommon: registerCommon{
		Nonce: 55,
		KeyID: KeyIDNone,
		Records: []MappingRecord{
			{TTL: 60, MaskLen: 32, EID: ip("10.0.0.1")},
		},
	}}
	buf := make([]byte, n.Size())
	_, err := n.Encode(buf)
	require.NoError(t, err)

	got, _, err := DecodeMapNotify(buf)
	require.NoError(t, err)
	require.Equal(t, uint64(55), got.Nonce)
}

func TestInfoMessageRoundTrip(t *testing.T) {
	m := InfoMessage{
		Reply:       true,
		Nonce:       1,
		TTL:         1440,
		EIDPrefix:   address.IPPrefix{Addr: netip.MustParseAddr("10.0.0.0"), Plen: 24},
		RTRLocators: []address.Address{ip("198.51.100.10")},
	}
	buf := make([]byte, m.Size())
	_, err := m.Encode(buf)
	require.NoError(t, err)

	got, _, err := DecodeInfoMessage(buf)
	require.NoError(t, err)
	require.True(t, got.Reply)
	require.Len(t, got.RTRLocators, 1)
	require.Equal(t, "198.51.100.10", got.RTRLocators[0].String())
}

func TestEncapsulatedControlRoundTrip(t *testing.T) {
	inner := MapRegister{registerCommon: registerCommon{
		Nonce: 99,
		Records: []MappingRecord{
			{TTL: 60, MaskLen: 32, EID: ip("10.0.0.1")},
		},
	}}
	innerBuf := make([]byte, inner.Size())
	_, err := inner.Encode(innerBuf)
	require.NoError(t, err)

	e := EncapsulatedControl{
		InnerSource:  ip("192.0.2.1"),
		InnerDest:    ip("192.0.2.5"),
		InnerUDPSrc:  4342,
		InnerUDPDst:  4341,
		InnerMessage: innerBuf,
	}
	buf := make([]byte, e.Size())
	_, err = e.Encode(buf)
	require.NoError(t, err)

	got, _, err := DecodeEncapsulatedControl(buf)
	require.NoError(t, err)
	require.Equal(t, uint16(4342), got.InnerUDPSrc)

	typ, err := PeekType(got.InnerMessage)
	require.NoError(t, err)
	require.Equal(t, TypeMapRegister, typ)

	innerGot, _, err := DecodeMapRegister(got.InnerMessage)
	require.NoError(t, err)
	require.Equal(t, uint64(99), innerGot.Nonce)
}

func TestDecodeRejectsWrongType(t *testing.T) {
	m := MapRequest{SourceEID: ip("10.0.0.1")}
	buf := make([]byte, m.Size())
	_, err := m.Encode(buf)
	require.NoError(t, err)

	_, _, err = DecodeMapReply(buf)
	require.ErrorIs(t, err, lisperr.ErrUnknownType)
}

func TestDecodeTruncatedBuffer(t *testing.T) {
	_, _, err := DecodeMapRequest([]byte{0x10, 0x00})
	require.ErrorIs(t, err, lisperr.ErrTruncated)
}

func TestAuthKeyIDNoneProducesNoMAC(t *testing.T) {
	mac, err := Compute(KeyIDNone, nil, []byte("anything"))
	require.NoError(t, err)
	require.Nil(t, mac)
}

func TestAuthVerifyRejectsTamperedBuffer(t *testing.T) {
	key := []byte("psk")

	buf := []byte("a control message body")
	mac, err := Compute(KeyIDHMACSHA1, key, buf)
	require.NoError(t, err)

	buf[0] ^= 0xFF
	ok, err := Verify(KeyIDHMACSHA1, key, buf, mac)
	require.NoError(t, err)
	require.False(t, ok)
}
