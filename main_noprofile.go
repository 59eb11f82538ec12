//go:build !profile
// +build !profile

package main

func doMain() int {
	return run(parseFlags())
}
