//go:build profile
// +build profile

package main

// View all Profiles
//   Browser goto `http://localhost:6060/debug/pprof/`
//
// Profile Examples
//   Terminal
//     Tab1 Run `go run -tags profile github.com/jonoton/alprd -f`
//     Tab2 Run `go tool pprof -http localhost:8081 http://localhost:6060/debug/pprof/profile?seconds=2`
//
//     Tab2 Run `go tool pprof -http localhost:8081 http://localhost:6060/debug/pprof/heap`
//     Tab2 Run `go tool pprof -http localhost:8081 http://localhost:6060/debug/pprof/goroutine`
//

import (
	baseHttp "net/http"
	_ "net/http/pprof"

	log "github.com/sirupsen/logrus"
)

func doMain() int {
	opts := parseFlags()
	// HTTP for Profiling
	go func() {
		log.Println(baseHttp.ListenAndServe(":6060", nil))
	}()
	return run(opts)
}
