package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	c, err := Lookup("900HP")
	require.NoError(t, err)
	assert.Equal(t, "900hp", c.Name())

	c, err = Lookup("s1")
	require.NoError(t, err)
	assert.Equal(t, 100, c.MTU())

	_, err = Lookup("zigbee")
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestEncodeAT(t *testing.T) {
	for _, c := range []Codec{XBee900HP{}, XBeeS1{}} {
		data, err := c.Encode(Command{Kind: CommandAT, FrameID: 5, AT: "TO", Parameter: []byte{0x40}})
		require.NoError(t, err)
		assert.Equal(t, []byte{0x08, 0x05, 'T', 'O', 0x40}, data, c.Name())

		_, err = c.Encode(Command{Kind: CommandAT, AT: "TOO"})
		assert.ErrorIs(t, err, ErrInvalidCommand)
	}
}

func TestEncodeTransmit900HP(t *testing.T) {
	data, err := XBee900HP{}.Encode(Command{
		Kind:    CommandTransmit,
		FrameID: 0x2A,
		Dest:    BroadcastAddress,
		Data:    []byte("hi"),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x10, 0x2A,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF,
		0xFF, 0xFE, 0x00, 0x00,
		'h', 'i',
	}, data)
}

func TestEncodeTransmitS1(t *testing.T) {
	data, err := XBeeS1{}.Encode(Command{
		Kind:    CommandTransmit,
		FrameID: 0x01,
		Dest:    0x0013A20040A1B2C3,
		Data:    []byte{0xAB},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0x00, 0x13, 0xA2, 0x00, 0x40, 0xA1, 0xB2, 0xC3, 0x00, 0xAB}, data)
}

func TestDecode900HP(t *testing.T) {
	c := XBee900HP{}
	tests := []struct {
		name string
		data []byte
		want Response
	}{
		{
			name: "at response",
			data: []byte{0x88, 0x03, 'S', 'H', 0x00, 0x00, 0x13, 0xA2, 0x00},
			want: Response{Kind: ResponseAT, FrameID: 3, AT: "SH", Parameter: []byte{0x00, 0x13, 0xA2, 0x00}},
		},
		{
			name: "tx status",
			data: []byte{0x8B, 0x07, 0xFF, 0xFE, 0x02, 0x21, 0x00},
			want: Response{Kind: ResponseTxStatus, FrameID: 7, Status: 0x21},
		},
		{
			name: "receive",
			data: []byte{0x90, 0, 0x13, 0xA2, 0, 0x40, 0xA1, 0xB2, 0xC3, 0xFF, 0xFE, 0x01, 'o', 'k'},
			want: Response{Kind: ResponseReceive, Source: 0x0013A20040A1B2C3, Data: []byte("ok")},
		},
		{
			name: "modem status",
			data: []byte{0x8A, 0x00},
			want: Response{Kind: ResponseModemStatus},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decode(tt.data)
			require.NoError(t, err)
			if len(tt.want.Parameter) == 0 {
				tt.want.Parameter = got.Parameter
			}
			assert.Equal(t, tt.want, *got)
		})
	}

	_, err := c.Decode([]byte{0x8B, 0x01})
	assert.ErrorIs(t, err, ErrMalformedFrame)
	_, err = c.Decode([]byte{0x95, 0x01})
	assert.ErrorIs(t, err, ErrUnknownFrame)
	_, err = c.Decode(nil)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeS1(t *testing.T) {
	c := XBeeS1{}

	got, err := c.Decode([]byte{0x89, 0x04, 0x01})
	require.NoError(t, err)
	assert.Equal(t, ResponseTxStatus, got.Kind)
	assert.Equal(t, byte(4), got.FrameID)
	assert.Equal(t, "No ACK", c.TxStatusText(got.Status))

	got, err = c.Decode([]byte{0x80, 0, 0, 0, 0, 0, 0, 0x12, 0x34, 0x28, 0x00, 'x'})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), got.Source)
	assert.Equal(t, 0x28, got.RSSI)
	assert.Equal(t, []byte("x"), got.Data)

	got, err = c.Decode([]byte{0x81, 0xAB, 0xCD, 0x30, 0x00, 'y', 'z'})
	require.NoError(t, err)
	assert.Equal(t, uint64(0xABCD), got.Source)
	assert.Equal(t, []byte("yz"), got.Data)
}

func TestTxStatusText(t *testing.T) {
	c := XBee900HP{}
	assert.Equal(t, "Success", c.TxStatusText(0x00))
	assert.Equal(t, "Route Not Found", c.TxStatusText(0x25))
	assert.Equal(t, "Payload too large", c.TxStatusText(0x74))
	assert.Equal(t, "Unknown status 0x99", c.TxStatusText(0x99))
	assert.Equal(t, "Hardware reset", ModemStatusText(0x00))
}
