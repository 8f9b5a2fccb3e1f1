package rtc

import (
	"github.com/pion/webrtc/v4"
)

// dataChannel adapts a pion data channel to core.ControlChannel.
type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) Label() string { return d.dc.Label() }

func (d *dataChannel) IsOpen() bool { return d.dc.ReadyState() == webrtc.DataChannelStateOpen }

// Send writes data as a text message.
func (d *dataChannel) Send(data []byte) error { return d.dc.SendText(string(data)) }

func (d *dataChannel) OnOpen(fn func()) { d.dc.OnOpen(fn) }

func (d *dataChannel) OnMessage(fn func([]byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) { fn(msg.Data) })
}

func (d *dataChannel) OnClose(fn func()) { d.dc.OnClose(fn) }

func (d *dataChannel) Close() error { return d.dc.Close() }
