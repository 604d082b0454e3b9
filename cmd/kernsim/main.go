// Command kernsim drives the microkernel simulator through two of the
// spec's end-to-end scenarios: a two-task port ping/pong and a sleep-
// accuracy check, the same role cmd/agent's main plays for the
// teacher's collector pipeline — load config, wire subsystems, run.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"golang.org/x/term"

	"github.com/nhdewitt/pico32/internal/core"
	"github.com/nhdewitt/pico32/internal/ipc/message"
	"github.com/nhdewitt/pico32/internal/ipc/port"
	"github.com/nhdewitt/pico32/internal/kernel"
	"github.com/nhdewitt/pico32/internal/physmem"
	"github.com/nhdewitt/pico32/internal/platform"
)

// config holds the simulator's runtime knobs, filled from flags with
// env-var defaults — the same loadConfig() shape as cmd/agent's main.
type config struct {
	ramSize      uintptr
	tickMsec     uint32
	slices       int
	sleepPeriod  uint32
	colorConsole bool
}

func loadConfig() config {
	ramSize := flag.Uint64("ram-size", envUint("KERNSIM_RAM_SIZE", 1<<16), "simulated RAM size in bytes")
	tickMsec := flag.Uint("tick-msec", uint(envUint("KERNSIM_TICK_MSEC", 100)), "timer tick interval in milliseconds")
	slices := flag.Int("slices", int(envUint("KERNSIM_SLICES", 500)), "number of scheduling slices to run")
	sleepPeriod := flag.Uint("sleep-msec", uint(envUint("KERNSIM_SLEEP_MSEC", 1000)), "sleep-accuracy scenario period in milliseconds")
	flag.Parse()

	return config{
		ramSize:      uintptr(*ramSize),
		tickMsec:     uint32(*tickMsec),
		slices:       *slices,
		sleepPeriod:  uint32(*sleepPeriod),
		colorConsole: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// colorWriter tints every line written through it cyan, resetting before
// the trailing newline so the tint never bleeds onto the next line or past
// process exit. Only used when stdout is a real terminal (term.IsTerminal).
type colorWriter struct {
	w io.Writer
}

func (c *colorWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(c.w, "\x1b[36m"); err != nil {
		return 0, err
	}
	if len(p) > 0 && p[len(p)-1] == '\n' {
		if _, err := c.w.Write(p[:len(p)-1]); err != nil {
			return 0, err
		}
		_, err := io.WriteString(c.w, "\x1b[0m\n")
		return len(p), err
	}
	n, err := c.w.Write(p)
	return n, err
}

func envUint(name string, def uint64) uint64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func main() {
	cfg := loadConfig()

	var out io.Writer = os.Stdout
	if cfg.colorConsole {
		out = &colorWriter{w: os.Stdout}
	}
	logger := log.New(out, "", log.LstdFlags)
	console := kernel.NewConsole(logger)

	sim := platform.NewSim(cfg.ramSize)
	k, err := kernel.Boot(sim, kernel.Config{
		RAMBase:          0x1000,
		RAMSize:          cfg.ramSize - 0x1000,
		TickIntervalMsec: cfg.tickMsec,
	}, console)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kernsim: boot failed: %v\n", err)
		os.Exit(1)
	}

	startPingPong(k)
	k.StartDemoTask("sleeper", cfg.sleepPeriod, 4096)

	start := time.Now()
	k.Run(cfg.slices)
	console.Logf("kernsim: ran %d slices in %s wall clock", cfg.slices, time.Since(start))
}

// pingPongRole distinguishes the two scenario-1 tasks: server creates and
// names the port; client looks the name up and drives the request.
type pingPongRole int

const (
	roleServer pingPongRole = iota
	roleClient
)

type pingPongTask struct {
	k      *kernel.Kernel
	task   core.TaskID
	role   pingPongRole
	phase  int
	local  *port.Port
	remote *port.Port
	alloc  physmem.Allocator
	count  int
}

// startPingPong wires up the two-task ping/pong scenario: task A creates
// port "a" and waits for requests; task B looks "a" up, connects, and
// repeatedly sends/awaits-completion. Matches spec §8 scenario 1.
func startPingPong(k *kernel.Kernel) {
	server := &pingPongTask{k: k, role: roleServer}
	server.alloc.AddRegion(physmem.Region{Name: "ppong-server", Base: 0x40000, Size: 0x1000})
	server.task = &core.Task{}
	k.Sched.InitTask(server.task, "ping-server", 0, 0, 4096, 0)
	k.AddStep(server.task, server.step)
	k.Sched.Start(server.task)

	client := &pingPongTask{k: k, role: roleClient}
	client.alloc.AddRegion(physmem.Region{Name: "ppong-client", Base: 0x41000, Size: 0x1000})
	client.task = &core.Task{}
	k.Sched.InitTask(client.task, "ping-client", 0, 0, 4096, 0)
	k.AddStep(client.task, client.step)
	k.Sched.Start(client.task)
}

func (p *pingPongTask) step() {
	if p.role == roleServer {
		p.serverStep()
	} else {
		p.clientStep()
	}
}

func (p *pingPongTask) serverStep() {
	switch p.phase {
	case 0:
		p.local = port.Create(p.k.Sched, p.task, 8, 8)
		p.local.SetActive()
		if err := p.k.Ports.AddName(p.local, "a"); err != nil {
			p.k.Console.Logf("[ping-server] add_name failed: %v", err)
			return
		}
		p.k.Sched.SetSigmask(0, core.SignalMask(core.PORT_RXREADY))
		p.phase = 1
	case 1:
		if _, ok := p.k.Sched.Wait(core.SignalMask(core.PORT_RXREADY)); !ok {
			return
		}
		msg, err := p.local.Recv()
		if err != nil || msg == nil {
			return
		}
		p.count++
		p.k.Console.Logf("[ping-server] received %d-byte message #%d", len(msg.Payload), p.count)
		if err := port.SetMsgCompleted(msg); err != nil {
			p.k.Console.Logf("[ping-server] set_msg_completed failed: %v", err)
		}
	}
}

func (p *pingPongTask) clientStep() {
	switch p.phase {
	case 0:
		found, err := p.k.Ports.LookupName("a")
		if err != nil {
			return // server hasn't published the name yet; retry next slice
		}
		p.remote = found
		p.local = port.Create(p.k.Sched, p.task, 8, 8)
		p.local.SetActive()
		if err := port.Connect(p.local, p.remote); err != nil {
			p.k.Console.Logf("[ping-client] connect failed: %v", err)
			return
		}
		p.k.Sched.SetSigmask(0, core.SignalMask(core.PORT_RXREADY))
		p.phase = 1
	case 1:
		msg, err := message.Allocate(&p.alloc, 32)
		if err != nil {
			p.k.Console.Logf("[ping-client] allocate failed: %v", err)
			return
		}
		if err := port.Send(p.local, p.remote, msg); err != nil {
			p.k.Console.Logf("[ping-client] send failed: %v", err)
			msg.Release(&p.alloc)
			return
		}
		p.phase = 2
	case 2:
		if _, ok := p.k.Sched.Wait(core.SignalMask(core.PORT_RXREADY)); !ok {
			return
		}
		reply := p.local.RecvCompletion()
		if reply == nil {
			return
		}
		p.count++
		p.k.Console.Logf("[ping-client] completion #%d received", p.count)
		reply.Release(&p.alloc)
		p.phase = 1
	}
}
