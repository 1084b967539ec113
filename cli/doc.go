// Package cli implements the radiolink command tree.
//
//	radiolink send <file> [remote-path]        send one file and verify it
//	radiolink listen [--dir DIR]               receive files, restart on device failure
//	radiolink archive <src> <archive> [--watch] send, verify and move every file
//	radiolink proxy <url-a> <url-b>            bridge two link endpoints
//	radiolink scan [--nodes]                   energy scan and neighbor discovery
//	radiolink version
//
// Settings come from ~/.radiolink/config.yaml (see package config); the
// persistent flags override the file.
package cli
