// Command radiolink transfers files and bridges byte streams over XBee radios.
package main

import "github.com/opd-ai/radiolink/cli"

func main() {
	cli.Execute()
}
