// Package config loads radiolink settings from a YAML file.
//
// A missing file yields the defaults. Durations are written as strings
// such as "5s" or "250ms".
//
//	radio:
//	  port: /dev/ttyUSB0:115200
//	  variant: 900hp
//	xtp:
//	  chunk_size: 6144
//	  directory: ./inbox
//	stats:
//	  backend: postgres
//	  dsn: postgres://radiolink@localhost/radiolink?sslmode=disable
//	status:
//	  listen: 127.0.0.1:8080
//	logging:
//	  level: debug
package config
