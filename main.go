package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/client"
	"github.com/mqy/minichat/config"
	"github.com/mqy/minichat/store"
)

var (
	flagConfig    = flag.String("config", "", "optional YAML config file")
	flagAPIURL    = flag.String("api-url", "", "REST base url, overrides config `api_url`")
	flagWSURL     = flag.String("ws-url", "", "STOMP websocket url, overrides config `ws_url`")
	flagStore     = flag.String("store", "", "`memory`, `bolt:<path>` or a redis url, overrides config `store`")
	flagInstances = flag.Int("instances", 0, "sessions to run over the store, overrides config `instances`")
	flagDebugAddr = flag.String("debug-addr", "", "address of the metrics/debug server, overrides config `debug_addr`")
	flagToken     = flag.String("token", "", "bearer token to save into the store")
	flagUsername  = flag.String("username", "", "username to save into the store")
	flagPprofDir  = flag.String("pprof-dir", "pprof", "dir to save pprof data files")
	flagNoStdin   = flag.Bool("no-stdin", false, "do not read commands from stdin")
)

var cfg *config.Config

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	pid := os.Getpid()
	pprofDir := filepath.Join(*flagPprofDir, strconv.Itoa(pid))

	backend, err := store.Open(cfg.Store)
	if err != nil {
		return errorf("open store `%s`: %v", cfg.Store, err)
	}
	defer backend.Close()

	if cfg.Token != "" {
		creds := auth.Credentials{Token: cfg.Token, Username: cfg.Username}
		if err := auth.Save(store.NewView(backend, "cli"), creds); err != nil {
			return errorf("save credentials: %v", err)
		}
	}

	sessions := make([]*client.Session, 0, cfg.Instances)
	for i := 0; i < cfg.Instances; i++ {
		s, err := client.New(cfg, store.NewView(backend, strings.ReplaceAll(uuid.New(), "-", "")))
		if errors.Is(err, auth.ErrNoCredentials) {
			return errorf("no credentials in store, pass --token and --username")
		} else if err != nil {
			return errorf("new session: %v", err)
		}
		sessions = append(sessions, s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		g.Go(func() error { return s.Run(gctx) })
	}

	var debugServer *http.Server
	if cfg.DebugAddr != "" {
		debugServer = &http.Server{Addr: cfg.DebugAddr, Handler: client.NewDebugRouter(sessions)}
		go func() {
			if err := debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				glog.Errorf("debug server error: %v", err)
			}
		}()
	}

	if !*flagNoStdin {
		go commandLoop(gctx, os.Stdin, os.Stdout, sessions)
	}

	glog.Infof("minichat is running %d session(s) of `%s` over %s", len(sessions), sessions[0].Username(), cfg.Store)
	glog.Infof("`kill -USR1 %d` to dump goroutines; `kill -USR2 %d` to start/stop profiler; `CTRL+c` or `kill %d` to stop", pid, pid, pid)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)

	var (
		prof     *profiler
		stopping bool
		exited   = make(chan struct{})
		gdone    = gctx.Done()
	)
	stop := func() {
		stopping = true
		gdone = nil
		go func() {
			defer close(exited)
			cancel()
			if err := g.Wait(); err != nil {
				glog.Errorf("session error: %v", err)
			}
			if debugServer != nil {
				shutdownCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
				_ = debugServer.Shutdown(shutdownCtx)
				done()
			}
		}()
	}

	for {
		select {
		case <-exited:
			if prof != nil {
				prof.Stop()
			}
			signal.Stop(sigCh)
			glog.Info("minichat exited")
			return 0
		case <-gdone:
			glog.Infof("sessions stopped, exiting")
			stop()
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				if err := os.MkdirAll(pprofDir, 0750); err == nil {
					dumpGoroutines(pprofDir)
				}
			case syscall.SIGUSR2:
				if prof == nil {
					if err := os.MkdirAll(pprofDir, 0750); err != nil {
						glog.Errorf("--pprof-dir: create `%s` error: %v", pprofDir, err)
						continue
					}
					prof = startProfiler(pprofDir)
				} else {
					prof.Stop()
					prof = nil
				}
			case syscall.SIGTERM, syscall.SIGINT:
				if stopping {
					glog.Infof("minichat is already stopping")
					continue
				}
				glog.Infof("received signal `%s`, stopping", sig.String())
				stop()
			}
		}
	}
}

func validateFlags() int {
	var err error
	if cfg, err = config.Load(*flagConfig); err != nil {
		return errorf("--config: %v", err)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "api-url":
			cfg.APIURL = *flagAPIURL
		case "ws-url":
			cfg.WSURL = *flagWSURL
		case "store":
			cfg.Store = *flagStore
		case "instances":
			cfg.Instances = *flagInstances
		case "debug-addr":
			cfg.DebugAddr = *flagDebugAddr
		case "token":
			cfg.Token = *flagToken
		case "username":
			cfg.Username = *flagUsername
		}
	})

	if err := cfg.Validate(); err != nil {
		return errorf("%v", err)
	}
	if *flagPprofDir == "" {
		return errorf("--pprof-dir is required")
	}
	return 0
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}

const helpText = `commands:
  /open <conversation id>     open a conversation
  /close                      close the open conversation
  /private <username>         start a private chat
  /group <name> <a,b,...>     create a group
  /list [filter]              list conversations
  /users                      list users
  /messages                   show the open conversation
  /refresh                    refresh all instances
  /tab <n>                    switch instance
  /logout                     remove credentials and disconnect
  /help
any other line is sent to the open conversation`

// commandLoop drives the sessions from line commands.
func commandLoop(ctx context.Context, in io.Reader, out io.Writer, sessions []*client.Session) {
	cur := sessions[0]
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runCommand(ctx, out, &cur, sessions, line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func runCommand(ctx context.Context, out io.Writer, cur **client.Session, sessions []*client.Session, line string) error {
	s := *cur
	if !strings.HasPrefix(line, "/") {
		_, err := s.Send(line)
		return err
	}

	fields := strings.Fields(line)
	args := fields[1:]
	switch fields[0] {
	case "/open":
		if len(args) != 1 {
			return errors.New("usage: /open <conversation id>")
		}
		if err := s.Open(ctx, args[0]); err != nil {
			return err
		}
		printMessages(out, s)
	case "/close":
		s.CloseConversation()
	case "/private":
		if len(args) != 1 {
			return errors.New("usage: /private <username>")
		}
		id, err := s.StartPrivateChat(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "opened %s\n", id)
	case "/group":
		if len(args) != 2 {
			return errors.New("usage: /group <name> <a,b,...>")
		}
		c, err := s.CreateGroup(ctx, args[0], strings.Split(args[1], ","))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created %s\n", c.ID)
	case "/list":
		for _, c := range s.Conversations(strings.Join(args, " ")) {
			var preview string
			if c.LastMessagePreview != nil {
				preview = *c.LastMessagePreview
			}
			fmt.Fprintf(out, "%-24s %-16s %s\n", c.ID, c.DisplayName, preview)
		}
	case "/users":
		for _, u := range s.Users() {
			online := "?"
			if u.Online != nil {
				online = strconv.FormatBool(*u.Online)
			}
			fmt.Fprintf(out, "%-16s online: %s\n", u.Username, online)
		}
	case "/messages":
		printMessages(out, s)
	case "/refresh":
		s.RequestRefresh()
	case "/tab":
		if len(args) != 1 {
			return errors.New("usage: /tab <n>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 || n >= len(sessions) {
			return fmt.Errorf("tab must be in [0, %d)", len(sessions))
		}
		*cur = sessions[n]
		fmt.Fprintf(out, "tab %d: %s\n", n, sessions[n].Origin())
	case "/logout":
		return s.Logout()
	case "/help":
		fmt.Fprintln(out, helpText)
	default:
		return fmt.Errorf("unknown command `%s`, try /help", fields[0])
	}
	return nil
}

func printMessages(out io.Writer, s *client.Session) {
	fmt.Fprintf(out, "-- %s\n", s.ActiveConversation())
	for _, m := range s.Messages() {
		fmt.Fprintf(out, "[%s] %s: %s\n", m.SentAt.Local().Format("15:04:05"), m.Sender, m.Content)
	}
}
