package cli

import "time"

const (
	senderAddr   uint64 = 0x0013A20040A1B2C3
	receiverAddr uint64 = 0x0013A20040D4E5F6
)

// testConfigYAML shortens discovery and beacon timing for the simulated radio.
const testConfigYAML = `radio:
  variant: 900hp
xtp:
  discovery_timeout: 2s
  beacon_interval: 20ms
  response_timeout: 200ms
  chunk_retries: 2
stats:
  backend: memory
logging:
  level: warn
`

var archiveTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const archiveStamp = "20240301T120000"
