package main

import "github.com/OpenTraceLab/ledpulse/cmd/ledpulse/cmd"

func main() {
	cmd.Execute()
}
