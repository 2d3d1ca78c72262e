package webrtc

import (
	"fmt"

	openh264 "github.com/y9o/go-openh264"

	"github.com/shotcaller-ai/shotcaller/pkg/media"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// decodedBitDepth is the sample depth of openh264 output. The decoder emits
// 8-bit I420 regardless of the source profile; deeper sources go through the
// narrowing path in media.YUV420PToRGB.
const decodedBitDepth = 8

// h264Decoder wraps one openh264 decoder instance. Each video track gets
// its own decoder because decoder state is per-stream and not safe for
// concurrent use.
type h264Decoder struct {
	dec *openh264.ISVCDecoder
}

func newH264Decoder() (*h264Decoder, error) {
	var dec *openh264.ISVCDecoder
	if rv := openh264.WelsCreateDecoder(&dec); rv != 0 || dec == nil {
		return nil, fmt.Errorf("webrtc: create openh264 decoder: rv=%d", rv)
	}
	if rv := dec.Initialize(&openh264.SDecodingParam{
		EEcActiveIdc: openh264.ERROR_CON_SLICE_COPY,
	}); rv != 0 {
		dec.Uninitialize()
		return nil, fmt.Errorf("webrtc: initialize openh264 decoder: rv=%d", rv)
	}
	return &h264Decoder{dec: dec}, nil
}

// decode feeds one Annex-B access unit to the decoder. The return is nil
// with no error while the decoder buffers frames before its first output.
func (d *h264Decoder) decode(annexB []byte) (*types.Frame, error) {
	var info openh264.SBufferInfo
	var planes [3][]byte
	rv := d.dec.DecodeFrameNoDelay(annexB, len(annexB), &planes, &info)
	if rv != 0 {
		return nil, fmt.Errorf("webrtc: decode: rv=%d", rv)
	}
	if info.IBufferStatus != 1 {
		return nil, nil
	}

	buf := info.UsrData_sSystemBuffer()
	width := int(buf.IWidth)
	height := int(buf.IHeight)
	yStride := int(buf.IStride[0])
	cStride := int(buf.IStride[1])

	rgb := media.YUV420PToRGB(planes[0], planes[1], planes[2], width, height, yStride, cStride, decodedBitDepth)
	return &types.Frame{Width: width, Height: height, Pixels: rgb}, nil
}

func (d *h264Decoder) close() {
	if d.dec != nil {
		d.dec.Uninitialize()
		d.dec = nil
	}
}
