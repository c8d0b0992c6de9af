// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// fileshare sends files between two peers over a WebRTC data channel
package main

import "github.com/pintubhai440/fileshare/cmd"

func main() {
	cmd.Execute()
}
