// Package usb provides the libusb-backed transport for real cameras
// and the bus enumeration that produces dialable devices.
package usb

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gousb"
	"github.com/openchdk/gochdk/pkg/camera"
	"github.com/openchdk/gochdk/pkg/chdk"
	"github.com/openchdk/gochdk/pkg/ptp"
)

// Bus wraps one libusb context.
type Bus struct {
	ctx *gousb.Context
}

func NewBus() *Bus {
	return &Bus{ctx: gousb.NewContext()}
}

func (b *Bus) Close() error {
	return b.ctx.Close()
}

// Cameras scans the bus for still image class devices.
func (b *Bus) Cameras() ([]*Cam, error) {
	var cams []*Cam

	devs, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return findPTPInterface(desc) != nil
	})
	for _, dev := range devs {
		cam := &Cam{bus: b}
		cam.info = camera.DeviceInfo{
			BusNum:    dev.Desc.Bus,
			DevNum:    dev.Desc.Address,
			VendorID:  uint16(dev.Desc.Vendor),
			ProductID: uint16(dev.Desc.Product),
		}
		cam.info.ModelName, _ = dev.Product()
		cam.info.SerialNum, _ = dev.SerialNumber()
		cams = append(cams, cam)
		_ = dev.Close()
	}
	if len(cams) == 0 && err != nil {
		return nil, err
	}
	return cams, nil
}

// Find returns the first camera matching the selector. Empty selector
// fields match anything.
func (b *Bus) Find(sel camera.DeviceInfo) (*Cam, error) {
	cams, err := b.Cameras()
	if err != nil {
		return nil, err
	}
	for _, cam := range cams {
		if sel.BusNum != 0 && sel.BusNum != cam.info.BusNum {
			continue
		}
		if sel.DevNum != 0 && sel.DevNum != cam.info.DevNum {
			continue
		}
		if sel.SerialNum != "" && sel.SerialNum != cam.info.SerialNum {
			continue
		}
		if sel.ProductID != 0 && sel.ProductID != cam.info.ProductID {
			continue
		}
		return cam, nil
	}
	return nil, fmt.Errorf("usb: no camera matching %+v", sel)
}

type ptpEndpoints struct {
	config int
	iface  int
	alt    int
	inNum  int
	outNum int
}

func findPTPInterface(desc *gousb.DeviceDesc) *ptpEndpoints {
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class != gousb.ClassPTP {
					continue
				}
				eps := &ptpEndpoints{config: cfg.Number, iface: intf.Number, alt: alt.Alternate, inNum: -1, outNum: -1}
				for _, ep := range alt.Endpoints {
					if ep.TransferType != gousb.TransferTypeBulk {
						continue
					}
					if ep.Direction == gousb.EndpointDirectionIn {
						eps.inNum = ep.Number
					} else {
						eps.outNum = ep.Number
					}
				}
				if eps.inNum >= 0 && eps.outNum >= 0 {
					return eps
				}
			}
		}
	}
	return nil
}

// Cam is one enumerated camera, dialable any number of times.
type Cam struct {
	bus  *Bus
	info camera.DeviceInfo
}

func (c *Cam) Info() camera.DeviceInfo {
	return c.info
}

// Dial opens the device, claims its still image interface and brings
// up a CHDK client over a fresh PTP session.
func (c *Cam) Dial() (camera.Conn, error) {
	devs, err := c.bus.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == c.info.BusNum && desc.Address == c.info.DevNum
	})
	if len(devs) == 0 {
		if err != nil {
			return nil, fmt.Errorf("usb: open: %w", err)
		}
		return nil, fmt.Errorf("usb: device %d/%d vanished", c.info.BusNum, c.info.DevNum)
	}
	dev := devs[0]
	for _, extra := range devs[1:] {
		_ = extra.Close()
	}

	eps := findPTPInterface(dev.Desc)
	if eps == nil {
		_ = dev.Close()
		return nil, fmt.Errorf("usb: device %d/%d has no still image interface", c.info.BusNum, c.info.DevNum)
	}

	_ = dev.SetAutoDetach(true)

	cfg, err := dev.Config(eps.config)
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("usb: claim config: %w", err)
	}
	intf, err := cfg.Interface(eps.iface, eps.alt)
	if err != nil {
		_ = cfg.Close()
		_ = dev.Close()
		return nil, fmt.Errorf("usb: claim interface: %w", err)
	}

	in, err := intf.InEndpoint(eps.inNum)
	if err == nil {
		var out *gousb.OutEndpoint
		if out, err = intf.OutEndpoint(eps.outNum); err == nil {
			t := &transport{dev: dev, cfg: cfg, intf: intf, in: in, out: out}
			conn := ptp.NewConn(t)
			if err = conn.OpenSession(); err == nil {
				return chdk.NewClient(conn), nil
			}
			_ = t.Close()
			return nil, err
		}
	}

	intf.Close()
	_ = cfg.Close()
	_ = dev.Close()
	return nil, fmt.Errorf("usb: endpoints: %w", err)
}

// transport moves PTP containers over the bulk endpoint pair.
type transport struct {
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint
}

func (t *transport) Write(b []byte) error {
	for len(b) > 0 {
		n, err := t.out.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func (t *transport) Read() ([]byte, error) {
	head := make([]byte, t.in.Desc.MaxPacketSize)
	n, err := t.in.Read(head)
	if err != nil {
		return nil, err
	}
	if n < 4 {
		return nil, fmt.Errorf("usb: short read: %d bytes", n)
	}

	total := int(binary.LittleEndian.Uint32(head))
	if total < ptp.HeaderSize {
		return nil, fmt.Errorf("usb: bad container length %d", total)
	}

	buf := make([]byte, 0, total)
	buf = append(buf, head[:n]...)
	for len(buf) < total {
		chunk := make([]byte, total-len(buf))
		if n, err = t.in.Read(chunk); err != nil {
			return nil, err
		}
		buf = append(buf, chunk[:n]...)
	}
	return buf[:total], nil
}

func (t *transport) Close() error {
	t.intf.Close()
	_ = t.cfg.Close()
	return t.dev.Close()
}
