// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sampledump runs a perf_event sampling session against the
// current process for a fixed duration and prints the decoded records.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/aclements-labs/goperf/perfattr"
	"github.com/aclements-labs/goperf/perffd"
	"github.com/aclements-labs/goperf/perfsample"
)

func main() {
	var (
		flagDuration = flag.Duration("duration", time.Second, "how long to sample")
		flagFreq     = flag.Uint64("freq", 4000, "sampling `frequency` in Hz")
		flagPages    = flag.Int("pages", 128, "ring buffer data region page count, a power of two")
	)
	flag.Parse()

	cfg := perfattr.SamplingConfig{
		Rate: perfattr.Frequency(*flagFreq),
		Requests: []perfattr.SampleRequest{
			perfattr.RequestIP,
			perfattr.RequestTID,
			perfattr.RequestTime,
		},
		Wakeup:      perfattr.WatermarkBytes(4096),
		SampleIDAll: true,
	}

	s := perfsample.New(cfg, perffd.CurrentProcessAnyCPU, *flagPages)
	handle, err := s.Start()
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("sampling for %v", *flagDuration)
	burnCPU(*flagDuration)

	records, err := handle.Join()
	if err != nil {
		log.Printf("session ended with error: %v", err)
	}
	log.Printf("collected %d records", len(records))
	for _, r := range records {
		fmt.Printf("%v %+v\n", r.Kind(), r)
	}
}

// burnCPU keeps the CPU busy for d, giving the session a running
// workload for its duration. The dummy software counter the session is
// anchored on never fires, so this loop does not by itself produce
// Sample records.
func burnCPU(d time.Duration) {
	deadline := time.Now().Add(d)
	var x uint64
	for time.Now().Before(deadline) {
		x += x*1103515245 + 12345
	}
	_ = x
}
