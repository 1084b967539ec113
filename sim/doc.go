// Package sim provides an in-memory radio network for deterministic
// testing of code written against transport.Transport.
//
// # Overview
//
// A Network connects any number of Links, each with a 64-bit address. A
// Link behaves like an open radio transport: Send queues a frame, frames
// are delivered to the destination's handler in FIFO order on a per-link
// goroutine, and broadcast frames reach every other link. Nothing touches
// a serial port.
//
// # Loss
//
// A DropFunc decides per frame whether it is lost. Lost unicast frames
// still report a transmit status, with a non-zero status byte, the way a
// modem reports an unacknowledged transmission. A link can also be taken
// off the air with SetReachable, or failed outright with Fail, which
// closes its Done channel with transport.ErrDeviceFailure.
//
// # Usage
//
//	net := sim.NewNetwork(sim.DefaultConfig())
//	a := net.Attach(0x0013A20040000001)
//	b := net.Attach(0x0013A20040000002)
//
//	b.RegisterHandler(func(src uint64, data []byte) { ... })
//	_ = a.Send([]byte("hello"), b.LocalAddr())
//	_ = a.Flush(time.Second)
//
// # Delivery Log
//
// Every frame is recorded as a DeliveryRecord. Use Records to inspect the
// log and ClearRecords to reset it between test cases.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package sim
