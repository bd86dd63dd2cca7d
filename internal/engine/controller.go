package engine

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"leelad/pkg/types"
)

// ErrStopped is returned by Send once the engine process has exited or is
// being stopped.
var ErrStopped = errors.New("engine stopped")

// Profile describes one configured engine kind.
type Profile struct {
	Name     string
	Exec     string
	Args     []string
	Weights  string
	Playouts int
}

// Argv assembles the argument vector for this profile: the base flags, the
// weights file when configured, and the search budget only when a positive
// playout count is set.
func (p Profile) Argv() []string {
	args := append([]string(nil), p.Args...)
	if p.Weights != "" {
		args = append(args, "-w", p.Weights)
	}
	if p.Playouts > 0 {
		args = append(args, "--playouts", strconv.Itoa(p.Playouts))
	}
	return args
}

// Handle is the controller surface consumed by the gateway and the pool.
type Handle interface {
	Profile() string
	Alive() bool
	Send(ctx context.Context, cmd types.Command) (Response, error)
	StartCapture()
	StopCapture() string
	OnExit(fn func())
	Stop() error
}

// Controller runs one engine child process and speaks GTP over its stdio.
// Commands write to stdin; responses ('='/'?' blocks terminated by a blank
// line) are read from stdout; stderr lines feed the capture recorder.
type Controller struct {
	profile  Profile
	log      zerolog.Logger
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	recorder Recorder

	// sendMu serializes round trips: one command in flight per engine.
	// abandoned counts responses still owed to canceled commands; it is
	// only touched under sendMu.
	sendMu    sync.Mutex
	respCh    chan Response
	abandoned int

	mu      sync.Mutex
	alive   bool
	exitFns []func()
	done    chan struct{}
}

// Start spawns the profile's executable and begins servicing its streams.
func Start(profile Profile, log zerolog.Logger) (*Controller, error) {
	cmd := exec.Command(profile.Exec, profile.Argv()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	c := &Controller{
		profile: profile,
		log:     log.With().Str("engine", profile.Name).Int("pid", cmd.Process.Pid).Logger(),
		cmd:     cmd,
		stdin:   stdin,
		respCh:  make(chan Response, 1),
		alive:   true,
		done:    make(chan struct{}),
	}
	c.log.Info().Str("exec", profile.Exec).Strs("args", profile.Argv()).Msg("engine started")

	go c.readStdout(stdout)
	go c.readStderr(stderr)
	go c.wait()
	return c, nil
}

// Profile returns the profile name the engine was started with.
func (c *Controller) Profile() string { return c.profile.Name }

// Alive reports whether the child process is still running.
func (c *Controller) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// OnExit registers fn to run when the process exits. If it already has,
// fn runs immediately.
func (c *Controller) OnExit(fn func()) {
	c.mu.Lock()
	if c.alive {
		c.exitFns = append(c.exitFns, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

// StartCapture arms the stderr capture window, clearing any previous log.
func (c *Controller) StartCapture() { c.recorder.Start() }

// StopCapture disarms the window and returns the captured text.
func (c *Controller) StopCapture() string {
	c.recorder.Stop()
	return c.recorder.Log()
}

// Send performs one blocking GTP round trip. Round trips are serialized;
// ctx cancellation abandons the in-flight command. Before writing, any
// response still owed to an abandoned command is waited out, so a late
// reply is never attributed to the wrong command.
func (c *Controller) Send(ctx context.Context, cmd types.Command) (Response, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.Alive() {
		return Response{}, ErrStopped
	}
	for c.abandoned > 0 {
		select {
		case <-c.respCh:
			c.abandoned--
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-c.done:
			return Response{}, ErrStopped
		}
	}

	if _, err := io.WriteString(c.stdin, formatCommand(cmd)+"\n"); err != nil {
		return Response{}, err
	}
	select {
	case resp := <-c.respCh:
		return resp, nil
	case <-ctx.Done():
		c.abandoned++
		return Response{}, ctx.Err()
	case <-c.done:
		return Response{}, ErrStopped
	}
}

// Stop asks the engine to quit, escalating to SIGTERM and finally SIGKILL,
// and waits for the process to exit. Safe to call more than once and after
// the process has already died.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// Best effort polite exit first.
	_, _ = io.WriteString(c.stdin, "quit\n")
	_ = c.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		_ = c.cmd.Process.Kill()
		<-c.done
	}
	return nil
}

func (c *Controller) wait() {
	err := c.cmd.Wait()
	c.mu.Lock()
	c.alive = false
	fns := c.exitFns
	c.exitFns = nil
	close(c.done)
	c.mu.Unlock()

	c.log.Info().AnErr("exit", err).Msg("engine exited")
	for _, fn := range fns {
		fn()
	}
}

func (c *Controller) readStdout(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var block []string
	collecting := false
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if !collecting {
			if strings.HasPrefix(line, "=") || strings.HasPrefix(line, "?") {
				collecting = true
				block = []string{line}
			}
			continue
		}
		if line == "" {
			resp := parseResponse(block)
			collecting = false
			block = nil
			select {
			case c.respCh <- resp:
			case <-c.done:
				return
			}
			continue
		}
		block = append(block, line)
	}
}

func (c *Controller) readStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		c.recorder.write(sc.Text())
	}
}
