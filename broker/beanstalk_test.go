package broker

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeJob struct {
	tube     string
	body     []byte
	reserved bool
	buried   bool
	releases int
}

// fakeBeanstalkd speaks the subset of the beanstalkd text protocol the client uses
type fakeBeanstalkd struct {
	ln     net.Listener
	guard  sync.Mutex
	nextID uint64
	jobs   map[uint64]*fakeJob
}

func startFakeBeanstalkd(t *testing.T) *fakeBeanstalkd {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v\n", err)
	}
	f := &fakeBeanstalkd{ln: ln, jobs: make(map[uint64]*fakeJob)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeBeanstalkd) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeBeanstalkd) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	used := "default"
	watched := map[string]bool{"default": true}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		var reply string
		switch fields[0] {
		case "use":
			used = fields[1]
			reply = "USING " + used
		case "watch":
			watched[fields[1]] = true
			reply = fmt.Sprintf("WATCHING %d", len(watched))
		case "ignore":
			delete(watched, fields[1])
			reply = fmt.Sprintf("WATCHING %d", len(watched))
		case "put":
			size, _ := strconv.Atoi(fields[4])
			body := make([]byte, size+2)
			if _, err := io.ReadFull(r, body); err != nil {
				return
			}
			reply = fmt.Sprintf("INSERTED %d", f.put(used, body[:size]))
		case "reserve-with-timeout":
			id, body, ok := f.reserve(watched)
			if !ok {
				reply = "TIMED_OUT"
			} else {
				reply = fmt.Sprintf("RESERVED %d %d\r\n%s", id, len(body), body)
			}
		case "delete", "release", "bury":
			id, _ := strconv.ParseUint(fields[1], 10, 64)
			reply = f.finish(fields[0], id)
		case "stats-job":
			id, _ := strconv.ParseUint(fields[1], 10, 64)
			reply = f.stats(id)
		default:
			reply = "UNKNOWN_COMMAND"
		}
		if _, err := conn.Write([]byte(reply + "\r\n")); err != nil {
			return
		}
	}
}

func (f *fakeBeanstalkd) put(tube string, body []byte) uint64 {
	f.guard.Lock()
	defer f.guard.Unlock()
	f.nextID++
	f.jobs[f.nextID] = &fakeJob{tube: tube, body: append([]byte(nil), body...)}
	return f.nextID
}

func (f *fakeBeanstalkd) reserve(watched map[string]bool) (uint64, []byte, bool) {
	f.guard.Lock()
	defer f.guard.Unlock()
	ids := make([]uint64, 0, len(f.jobs))
	for id, job := range f.jobs {
		if !job.reserved && !job.buried && watched[job.tube] {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil, false
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	job := f.jobs[ids[0]]
	job.reserved = true
	return ids[0], job.body, true
}

func (f *fakeBeanstalkd) finish(op string, id uint64) string {
	f.guard.Lock()
	defer f.guard.Unlock()
	job, ok := f.jobs[id]
	if !ok || !job.reserved {
		return "NOT_FOUND"
	}
	switch op {
	case "delete":
		delete(f.jobs, id)
		return "DELETED"
	case "release":
		job.reserved = false
		job.releases++
		return "RELEASED"
	}
	job.reserved = false
	job.buried = true
	return "BURIED"
}

func (f *fakeBeanstalkd) stats(id uint64) string {
	f.guard.Lock()
	defer f.guard.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return "NOT_FOUND"
	}
	yaml := fmt.Sprintf("---\nid: %d\ntube: %s\nreleases: %d\n", id, job.tube, job.releases)
	return fmt.Sprintf("OK %d\r\n%s", len(yaml), yaml)
}

func (f *fakeBeanstalkd) buried() (count int) {
	f.guard.Lock()
	defer f.guard.Unlock()
	for _, job := range f.jobs {
		if job.buried {
			count++
		}
	}
	return
}

func TestBeanstalkConformance(t *testing.T) {
	f := startFakeBeanstalkd(t)
	testConformance(t, NewBeanstalkDialer("127.0.0.1", f.port(), time.Minute))
}

func TestBeanstalkBury(t *testing.T) {
	f := startFakeBeanstalkd(t)
	testBury(t, NewBeanstalkDialer("127.0.0.1", f.port(), time.Minute))
	if f.buried() != 1 {
		t.Fatalf("buried = %d, expected 1\n", f.buried())
	}
}

func TestBeanstalkDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v\n", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	d := NewBeanstalkDialer("127.0.0.1", port, time.Minute)
	if _, err := d.Dial(t.Context()); err == nil {
		t.Fatalf("dial to closed port succeeded\n")
	}
}
