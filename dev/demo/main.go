package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/dev/fakeserver"
)

// The demo server stands in for the chat backend: REST plus STOMP over
// websocket, all in memory. A bot user posts to every other user on a ticker.

var (
	flagAddr   = flag.String("addr", "127.0.0.1:8080", "listen address")
	flagUsers  = flag.String("users", "alice,bob", "users to register, ',' delimited")
	flagBot    = flag.String("bot", "bot", "user that posts on a ticker, empty to disable")
	flagTicker = flag.Duration("ticker-duration", 30*time.Second, "bot ticker duration")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	users := strings.Split(*flagUsers, ",")
	if len(*flagUsers) == 0 {
		glog.Errorf("--users is required")
		os.Exit(1)
	}

	srv := fakeserver.New()
	defer srv.Close()

	for _, u := range users {
		fmt.Printf("--token %s --username %s\n", srv.AddUser(u), u)
	}
	if *flagBot != "" {
		srv.AddUser(*flagBot)
	}

	httpServer := &http.Server{Addr: *flagAddr, Handler: srv}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Errorf("http server error: %v", err)
			os.Exit(1)
		}
	}()
	glog.Infof("demo server is listening on %s, ws url: ws://%s/ws/websocket", *flagAddr, *flagAddr)

	ticker := time.NewTicker(*flagTicker)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var i int
	for {
		select {
		case <-ticker.C:
			if *flagBot == "" {
				continue
			}
			i++
			for _, u := range users {
				chatID := chatstore.PrivateID(*flagBot, u)
				if err := srv.Post(chatID, *flagBot, fmt.Sprintf("hello #%d", i)); err != nil {
					glog.Errorf("post to `%s` error: %v", chatID, err)
				}
			}
		case sig := <-sigCh:
			glog.Infof("received signal `%s`, stopping", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_ = httpServer.Shutdown(ctx)
			cancel()
			return
		}
	}
}
