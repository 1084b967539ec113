// Package link bridges byte streams between endpoints and the radio.
//
// An Endpoint accepts writes and, while its serve loop runs, forwards
// everything it receives to the endpoint bound as its peer. A Proxy binds
// two endpoints to each other:
//
//	p, err := link.NewProxy("tcpserver:0.0.0.0:9000", "xbee:/dev/ttyUSB0:115200:8N1:true", opts)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	return p.Run(ctx)
//
// Endpoint URLs:
//
//	tcpserver:<host>:<port>
//	tcpclient:<host>:<port>
//	serial:<device>:<baud>:<bytesize><parity><stopbits>
//	xbee:<device>:<baud>:<bytesize><parity><stopbits>:<isBasestation>
//
// The radio endpoint learns its peer with a three-way handshake
// (HELLOBASESTATION, HELLOREMOTE, HELLOACK), gzips each write, splits it
// into wide fragments and retries every fragment a few times before giving
// up on the write.
//
// Writing to a TCP server with no connected clients returns
// ErrPeerUnavailable; the proxy logs it and keeps running. Any other
// forwarding error stops the proxy, which is expected to be restarted.
package link
