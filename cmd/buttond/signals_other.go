//go:build !unix

package main

import "context"

// Control signals are not available on this platform.
func (d *daemon) watchControlSignals(context.Context) {}
