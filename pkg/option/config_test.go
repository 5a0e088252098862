// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package option

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	require.NoError(t, flags.Parse(args))

	vp := viper.New()
	require.NoError(t, vp.BindPFlags(flags))
	return vp
}

func TestPopulateAppliesDefaults(t *testing.T) {
	vp := newViper(t, "--control-interface=eth0", "--map-servers=192.0.2.1")
	cfg, err := Populate(vp)
	require.NoError(t, err)

	require.True(t, cfg.EnableIPv4)
	require.True(t, cfg.EnableIPv6)
	require.Equal(t, Defaults().RegisterInterval, cfg.RegisterInterval)
	require.Equal(t, ":9962", cfg.MetricsListenAddress)
}

func TestPopulateParsesAddressLists(t *testing.T) {
	vp := newViper(t,
		"--control-interface=eth0",
		"--map-servers=192.0.2.1,192.0.2.2",
		"--map-resolvers=198.51.100.1",
		"--rtrs=203.0.113.1",
	)
	cfg, err := Populate(vp)
	require.NoError(t, err)

	require.Len(t, cfg.MapServers, 2)
	require.Len(t, cfg.MapResolvers, 1)
	require.Len(t, cfg.RTRs, 1)
}

func TestPopulateRejectsMalformedAddress(t *testing.T) {
	vp := newViper(t, "--control-interface=eth0", "--map-servers=not-an-address")
	_, err := Populate(vp)
	require.Error(t, err)
}

func TestValidateRequiresAtLeastOneFamily(t *testing.T) {
	vp := newViper(t, "--control-interface=eth0", "--map-servers=192.0.2.1", "--enable-ipv4=false", "--enable-ipv6=false")
	_, err := Populate(vp)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidateRequiresMapServer(t *testing.T) {
	vp := newViper(t, "--control-interface=eth0")
	_, err := Populate(vp)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidateRequiresControlInterface(t *testing.T) {
	vp := newViper(t, "--map-servers=192.0.2.1")
	_, err := Populate(vp)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidateRejectsOddLengthPSK(t *testing.T) {
	vp := newViper(t, "--control-interface=eth0", "--map-servers=192.0.2.1", "--psk-hex=abc")
	_, err := Populate(vp)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPopulateParsesLocalMappings(t *testing.T) {
	vp := newViper(t, "--control-interface=eth0", "--map-servers=192.0.2.1")
	vp.Set(LocalMappingsKey, []map[string]any{
		{
			"EID": "198.51.100.0/24",
			"TTL": 1440,
			"Locators": []map[string]any{
				{"Addr": "192.0.2.10", "Interface": "eth0", "Priority": 1, "Weight": 100},
			},
		},
	})

	cfg, err := Populate(vp)
	require.NoError(t, err)
	require.Len(t, cfg.LocalMappings, 1)
	require.Equal(t, "198.51.100.0/24", cfg.LocalMappings[0].EID.String())
	require.Equal(t, uint32(1440), cfg.LocalMappings[0].TTL)
	require.Len(t, cfg.LocalMappings[0].Locators, 1)
	require.Equal(t, "192.0.2.10", cfg.LocalMappings[0].Locators[0].Addr.String())
}

func TestPopulateRejectsMalformedLocalMappingEID(t *testing.T) {
	vp := newViper(t, "--control-interface=eth0", "--map-servers=192.0.2.1")
	vp.Set(LocalMappingsKey, []map[string]any{{"EID": "not-a-prefix"}})

	_, err := Populate(vp)
	require.Error(t, err)
}
