package camera

import (
	"fmt"
	"time"

	"github.com/openchdk/gochdk/pkg/chdk"
	"github.com/openchdk/gochdk/pkg/luaval"
)

// captureStatusTimeout bounds the streamed chunk retrieval: streaming
// must terminate deterministically even if the device stalls.
const captureStatusTimeout = 30 * time.Second

// Shoot takes a picture. Depending on options the image is streamed
// straight from the camera memory and returned, saved on the camera
// storage, or saved and downloaded (and optionally removed) afterward.
// Returned bytes are nil when nothing was requested back.
func (d *Device) Shoot(opts CaptureOptions) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	record := luaval.Marshal(opts.encode())
	if opts.Stream {
		return d.shootStreaming(record, opts.DNG)
	}
	return d.shootNonStreaming(record, opts)
}

func (d *Device) shootNonStreaming(record string, opts CaptureOptions) ([]byte, error) {
	if !opts.Wait {
		_, err := d.Execute(fmt.Sprintf("rlib_shoot(%s)", record),
			&ExecOptions{NoWait: true, Libs: []string{"rlib_shoot"}})
		return nil, err
	}

	vals, err := d.Execute(fmt.Sprintf("return rlib_shoot(%s)", record),
		&ExecOptions{Libs: []string{"serialize_msgs", "rlib_shoot"}})
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 || vals[0].Kind != luaval.Table {
		return nil, fmt.Errorf("camera: shoot returned no status")
	}

	imgPath := fmt.Sprintf("%s/IMG_%04d.JPG", vals[0].Get("dir").String(), vals[0].Get("exp").Int())
	d.Log.Debug().Str("path", imgPath).Msg("captured")

	var data []byte
	if opts.DownloadAfter {
		if data, err = d.DownloadFile(imgPath, ""); err != nil {
			return nil, err
		}
	}
	if opts.RemoveAfter {
		if err = d.DeleteFiles(imgPath); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (d *Device) shootStreaming(record string, dng bool) ([]byte, error) {
	vals, err := d.Execute(fmt.Sprintf("return rs_init(%s)", record),
		&ExecOptions{Libs: []string{"rs_shoot_init"}})
	if err != nil {
		return nil, err
	}
	if len(vals) > 0 && !vals[0].Truthy() {
		msg := "init failed"
		if len(vals) > 1 {
			msg = vals[1].String()
		}
		return nil, fmt.Errorf("camera: remote capture: %s", msg)
	}

	if _, err = d.Execute(fmt.Sprintf("rs_shoot(%s)", record),
		&ExecOptions{NoWait: true, Libs: []string{"rs_shoot"}}); err != nil {
		return nil, err
	}

	data, err := d.fetchCapture(dng)
	if err != nil {
		return nil, err
	}

	// wait for the shoot script to finish, then tear down
	err = pollUntil(pollInterval, int(captureStatusTimeout/pollInterval), func() (bool, error) {
		run, _, err := d.conn.Status()
		if err != nil {
			return false, d.wrapConnErr(err)
		}
		return !run, nil
	})
	if err != nil {
		return nil, err
	}
	if _, err = d.Messages(); err != nil {
		return nil, err
	}
	if _, err = d.Execute("init_usb_capture(0) return true", nil); err != nil {
		return nil, err
	}
	return data, nil
}

// fetchCapture drives the chunk retrieval loop. JPEG chunks accumulate
// in arrival order, honoring seek offsets. DNG captures interleave
// header and raw chunks which are reordered into header, thumbnail,
// raw before concatenation.
func (d *Device) fetchCapture(dng bool) ([]byte, error) {
	deadline := time.Now().Add(captureStatusTimeout)
	var jpeg, raw streamBuffer
	var asm dngAssembler

	for {
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		status, _, err := d.conn.CaptureReady()
		if err != nil {
			return nil, d.wrapConnErr(err)
		}
		if status == chdk.CaptureNotReady {
			return nil, fmt.Errorf("camera: remote capture not initialized")
		}
		if status == 0 {
			time.Sleep(pollInterval)
			continue
		}

		if status&chdk.CaptureDNGHeader != 0 {
			chunk, err := d.conn.CaptureGetChunk(chdk.CaptureDNGHeader)
			if err != nil {
				return nil, d.wrapConnErr(err)
			}
			asm.SetHeader(chunk.Data)
		}

		if status&chdk.CaptureJPEG != 0 {
			last, err := d.fetchChunks(chdk.CaptureJPEG, &jpeg)
			if err != nil {
				return nil, err
			}
			if last {
				return jpeg.Bytes(), nil
			}
		}

		if status&chdk.CaptureRaw != 0 {
			chunk, err := d.conn.CaptureGetChunk(chdk.CaptureRaw)
			if err != nil {
				return nil, d.wrapConnErr(err)
			}
			d.Log.Trace().Int("size", len(chunk.Data)).Bool("last", chunk.Last).Msg("raw chunk")
			if dng {
				asm.AddRaw(chunk.Data)
				if chunk.Last {
					return asm.Bytes(), nil
				}
			} else {
				if chunk.Offset != chdk.OffsetAppend {
					err = raw.WriteAt(chunk.Data, int(chunk.Offset))
				} else {
					err = raw.Write(chunk.Data)
				}
				if err != nil {
					return nil, err
				}
				if chunk.Last {
					return raw.Bytes(), nil
				}
			}
		}
	}
}

// fetchChunks pulls chunks of one format until the device marks the
// last one, honoring absolute offsets.
func (d *Device) fetchChunks(format uint32, buf *streamBuffer) (last bool, err error) {
	for {
		chunk, err := d.conn.CaptureGetChunk(format)
		if err != nil {
			return false, d.wrapConnErr(err)
		}
		d.Log.Trace().Int("size", len(chunk.Data)).Bool("last", chunk.Last).Msg("jpeg chunk")
		if chunk.Offset != chdk.OffsetAppend {
			err = buf.WriteAt(chunk.Data, int(chunk.Offset))
		} else {
			err = buf.Write(chunk.Data)
		}
		if err != nil {
			return false, err
		}
		if chunk.Last {
			return true, nil
		}
		if len(chunk.Data) == 0 {
			return false, nil
		}
	}
}

// maxCaptureSize caps buffer growth from device supplied offsets, so a
// corrupt chunk header cannot force a huge allocation.
const maxCaptureSize = 1 << 28

// streamBuffer assembles ordered byte-range fragments.
type streamBuffer struct {
	data []byte
	pos  int
}

func (b *streamBuffer) Write(p []byte) error {
	return b.WriteAt(p, b.pos)
}

func (b *streamBuffer) WriteAt(p []byte, off int) error {
	need := off + len(p)
	if off < 0 || need > maxCaptureSize {
		return fmt.Errorf("camera: capture chunk offset %d out of range", off)
	}
	if need > len(b.data) {
		b.data = append(b.data, make([]byte, need-len(b.data))...)
	}
	copy(b.data[off:], p)
	b.pos = need
	return nil
}

func (b *streamBuffer) Bytes() []byte {
	return b.data
}

// dngAssembler reorders DNG capture segments. The header chunk is
// cached and emitted once up front; every raw chunk contributes its
// thumbnail before the raw data, so the final stream is
// header, thumb1, raw1, thumb2, raw2, ...
type dngAssembler struct {
	header []byte
	parts  [][]byte
}

func (a *dngAssembler) SetHeader(b []byte) {
	a.header = b
}

func (a *dngAssembler) AddRaw(raw []byte) {
	a.AddPair(dngThumb(a.header, raw), raw)
}

func (a *dngAssembler) AddPair(thumb, raw []byte) {
	if len(thumb) > 0 {
		a.parts = append(a.parts, thumb)
	}
	a.parts = append(a.parts, raw)
}

func (a *dngAssembler) Bytes() []byte {
	var out []byte
	out = append(out, a.header...)
	for _, p := range a.parts {
		out = append(out, p...)
	}
	return out
}

// dngThumb derives a small grayscale preview from the raw sensor data
// by coarse block averaging. Size is fixed so the offsets prepared in
// the DNG header stay valid.
const dngThumbSize = 128

func dngThumb(header, raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	thumb := make([]byte, dngThumbSize)
	block := len(raw) / dngThumbSize
	if block == 0 {
		block = 1
	}
	for i := 0; i < dngThumbSize; i++ {
		var sum, n int
		for j := i * block; j < (i+1)*block && j < len(raw); j++ {
			sum += int(raw[j])
			n++
		}
		if n > 0 {
			thumb[i] = byte(sum / n)
		}
	}
	return thumb
}
