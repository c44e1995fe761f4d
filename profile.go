package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/golang/glog"
)

const profileTimeFormat = "20060102_150405"

// profiler writes cpu, heap, mutex and block profiles of one session into
// dataDir, toggled by SIGUSR2. SIGUSR1 dumps goroutines.
type profiler struct {
	sync.Mutex
	dataDir string
	closers []func()
}

func startProfiler(dataDir string) *profiler {
	p := &profiler{dataDir: dataDir}
	p.startCPU()
	p.startLookup("heap", func(on bool) {
		if on {
			runtime.MemProfileRate = 4096
		} else {
			runtime.MemProfileRate = 512 * 1024
		}
	})
	p.startLookup("mutex", func(on bool) {
		if on {
			runtime.SetMutexProfileFraction(1)
		} else {
			runtime.SetMutexProfileFraction(0)
		}
	})
	p.startLookup("block", func(on bool) {
		if on {
			runtime.SetBlockProfileRate(1)
		} else {
			runtime.SetBlockProfileRate(0)
		}
	})
	return p
}

func (p *profiler) file(kind, ext string) (*os.File, string, error) {
	fn := filepath.Join(p.dataDir, fmt.Sprintf("%s-%s.%s", kind, time.Now().Format(profileTimeFormat), ext))
	f, err := os.Create(fn)
	return f, fn, err
}

func (p *profiler) startCPU() {
	f, fn, err := p.file("cpu", "pprof")
	if err != nil {
		glog.Errorf("pprof: create cpu profile error: %v", err)
		return
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		glog.Errorf("pprof: start cpu profile error: %v", err)
		f.Close()
		return
	}
	glog.Infof("pprof: cpu profiling enabled, %s", fn)
	p.closers = append(p.closers, func() {
		pprof.StopCPUProfile()
		f.Close()
		glog.Infof("pprof: cpu profiling disabled, %s", fn)
	})
}

func (p *profiler) startLookup(kind string, toggle func(on bool)) {
	f, fn, err := p.file(kind, "pprof")
	if err != nil {
		glog.Errorf("pprof: create %s profile error: %v", kind, err)
		return
	}
	toggle(true)
	glog.Infof("pprof: %s profiling enabled, %s", kind, fn)
	p.closers = append(p.closers, func() {
		if prof := pprof.Lookup(kind); prof != nil {
			_ = prof.WriteTo(f, 0)
		}
		f.Close()
		toggle(false)
		glog.Infof("pprof: %s profiling disabled, %s", kind, fn)
	})
}

// Stop flushes every profile. It is safe to call twice.
func (p *profiler) Stop() {
	p.Lock()
	closers := p.closers
	p.closers = nil
	p.Unlock()
	for _, fn := range closers {
		fn()
	}
}

func dumpGoroutines(dataDir string) {
	f, fn, err := (&profiler{dataDir: dataDir}).file("goroutines", "dump")
	if err != nil {
		glog.Errorf("pprof: create goroutine dump error: %v", err)
		return
	}
	defer f.Close()
	if err := pprof.Lookup("goroutine").WriteTo(f, 2); err != nil {
		glog.Errorf("pprof: write goroutine dump to %s error: %v", fn, err)
		return
	}
	glog.Infof("pprof: goroutines dumped to %s", fn)
}
