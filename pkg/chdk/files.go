package chdk

import (
	"encoding/binary"
	"io"
)

// Upload writes the whole of r to path on the camera storage. The wire
// format is a 4-byte name length, the name, then the file contents.
func (c *Client) Upload(path string, r io.Reader) error {
	contents, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	data := make([]byte, 4+len(path)+len(contents))
	binary.LittleEndian.PutUint32(data, uint32(len(path)))
	copy(data[4:], path)
	copy(data[4+len(path):], contents)

	_, _, err = c.conn.Roundtrip(OpCHDK, []uint32{UploadFile}, data)
	return err
}

// Download reads the file at path from the camera storage into w. The
// name travels through the temp data channel first.
func (c *Client) Download(path string, w io.Writer) error {
	if _, _, err := c.conn.Roundtrip(OpCHDK, []uint32{TempData, 0}, []byte(path)); err != nil {
		return err
	}
	data, _, err := c.conn.Roundtrip(OpCHDK, []uint32{DownloadFile}, nil)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
