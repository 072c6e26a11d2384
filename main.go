// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/inkboard/inkboot/cmd/inkboot"

func main() {
	cmd.Execute()
}
