/**
 * Copyright 2022 kmeaw
 *
 * Licensed under the GNU Affero General Public License (AGPL).
 *
 * This program is free software: you can redistribute it and/or modify it
 * under the terms of the GNU Affero General Public License as published by the
 * Free Software Foundation, version 3 of the License.
 *
 * This program is distributed in the hope that it will be useful, but WITHOUT
 * ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
 * FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
 * for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */
package main

import (
	"syscall"

	"golang.org/x/sys/windows"
)

const SOCKET_BUFFER = 1 << 18

func setSocketBuffers(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		h := windows.Handle(fd)
		serr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_RCVBUF, SOCKET_BUFFER)
		if serr != nil {
			return
		}
		serr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_SNDBUF, SOCKET_BUFFER)
	})
	if err != nil {
		return err
	}
	return serr
}

// vim: ai:ts=8:sw=8:noet:syntax=go
