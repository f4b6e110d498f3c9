package usb

import (
	"testing"

	"github.com/google/gousb"
	"github.com/stretchr/testify/require"
)

func TestFindPTPInterface(t *testing.T) {
	desc := &gousb.DeviceDesc{
		Configs: map[int]gousb.ConfigDesc{
			1: {
				Number: 1,
				Interfaces: []gousb.InterfaceDesc{
					{
						Number: 0,
						AltSettings: []gousb.InterfaceSetting{{
							Number: 0,
							Class:  gousb.ClassVendorSpec,
						}},
					},
					{
						Number: 1,
						AltSettings: []gousb.InterfaceSetting{{
							Number: 1,
							Class:  gousb.ClassPTP,
							Endpoints: map[gousb.EndpointAddress]gousb.EndpointDesc{
								0x81: {Number: 1, Direction: gousb.EndpointDirectionIn, TransferType: gousb.TransferTypeBulk},
								0x02: {Number: 2, Direction: gousb.EndpointDirectionOut, TransferType: gousb.TransferTypeBulk},
								0x83: {Number: 3, Direction: gousb.EndpointDirectionIn, TransferType: gousb.TransferTypeInterrupt},
							},
						}},
					},
				},
			},
		},
	}

	eps := findPTPInterface(desc)
	require.NotNil(t, eps)
	require.Equal(t, 1, eps.config)
	require.Equal(t, 1, eps.iface)
	require.Equal(t, 1, eps.inNum)
	require.Equal(t, 2, eps.outNum)

	// interrupt endpoints never qualify
	require.NotEqual(t, 3, eps.inNum)

	require.Nil(t, findPTPInterface(&gousb.DeviceDesc{}))
}
