package xtp

import "time"

const (
	senderAddr   uint64 = 0x0013A20040A1B2C3
	receiverAddr uint64 = 0x0013A20040D4E5F6

	testRemotePath = "inbox/report.bin"
)

func testConfig() Config {
	return Config{
		ChunkSize:        6144,
		Retries:          15,
		ChunkRetries:     2,
		DiscoveryTimeout: time.Second,
		BeaconInterval:   20 * time.Millisecond,
		HashPrefix:       6144,
		ResponseTimeout:  200 * time.Millisecond,
	}
}
