package main

import "github.com/ValentinKolb/smatrix/cmd"

func main() {
	cmd.Execute()
}
