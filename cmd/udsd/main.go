// File: cmd/udsd/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"os"
)

func main() {
	os.Exit(submain(context.Background()))
}
