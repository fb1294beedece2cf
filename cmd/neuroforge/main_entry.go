package main

import "os"

// exitFunc is swapped in tests so Execute paths can be asserted without
// killing the test process.
var exitFunc = os.Exit

func main() {
	exitFunc(runApp(os.Args))
}
