// The main package for the phasetrack executable.
package main

import "github.com/jroyal/phasetrack/cmd"

func main() {
	cmd.Execute()
}
