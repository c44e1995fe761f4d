package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Time allowed for the STOMP handshake.
	connectWait = 10 * time.Second

	// Send websocket pings with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next message or pong from the peer.
	pongWait = 25 * time.Second

	// STOMP heart-beat we offer in both directions.
	heartBeat = 10 * time.Second

	readLimit = 64 * 1024
	sendQueue = 64
)

var ErrClosed = errors.New("ws: connection closed")

// ITransport is one STOMP session over one websocket connection.
type ITransport interface {
	Subscribe(id, destination string) error
	Unsubscribe(id string) error
	Send(destination string, body []byte) error

	// Done is closed once the connection is lost or closed.
	Done() <-chan struct{}
	Close()
}

// MessageFunc receives the body of a MESSAGE frame by subscription id.
type MessageFunc func(subID string, body []byte)

// DialFunc establishes a STOMP session.
type DialFunc func(ctx context.Context, url string, creds auth.Credentials, onMessage MessageFunc) (ITransport, error)

type stompConn struct {
	sync.Mutex
	conn      *websocket.Conn
	onMessage MessageFunc

	dataChan chan *frame.Frame
	done     chan struct{}
	closing  bool
	graceful bool

	// negotiated STOMP heart-beat periods, 0 = none
	sendEvery time.Duration
	readWait  time.Duration
}

// DialSTOMP opens a websocket to rawURL and runs the STOMP CONNECT
// handshake. The bearer token goes on both the upgrade request and the
// CONNECT frame.
func DialSTOMP(ctx context.Context, rawURL string, creds auth.Credentials, onMessage MessageFunc) (ITransport, error) {
	if !creds.Valid() {
		return nil, auth.ErrNoCredentials
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("ws: bad url `%s`: %v", rawURL, err)
	}

	header := http.Header{}
	header.Set(wire.HeaderAuthorization, "Bearer "+creds.Token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws: dial %s: %v, status: %d", rawURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("ws: dial %s: %v", rawURL, err)
	}

	c := &stompConn{
		conn:      conn,
		onMessage: onMessage,
		dataChan:  make(chan *frame.Frame, sendQueue),
		done:      make(chan struct{}),
		readWait:  pongWait,
	}
	if err := c.handshake(u.Hostname(), creds); err != nil {
		conn.Close()
		return nil, err
	}

	go c.recvLoop()
	go c.sendLoop()
	return c, nil
}

func (c *stompConn) handshake(host string, creds auth.Credentials) error {
	beat := strconv.FormatInt(heartBeat.Milliseconds(), 10)
	req := frame.New(frame.CONNECT,
		frame.AcceptVersion, wire.Version,
		frame.Host, host,
		frame.HeartBeat, beat+","+beat,
		wire.HeaderAuthorization, "Bearer "+creds.Token,
		wire.HeaderUsername, creds.Username,
	)
	if err := c.write(req); err != nil {
		return fmt.Errorf("ws: send CONNECT: %v", err)
	}

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(connectWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws: read CONNECTED: %v", err)
		}
		f, err := wire.Decode(data)
		if err != nil {
			return err
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.CONNECTED:
			c.negotiate(f.Header.Get(frame.HeartBeat))
			glog.V(5).Infof("ws: connected, version: %s, heart-beat send: %s, read wait: %s",
				f.Header.Get(frame.Version), c.sendEvery, c.readWait)
			return nil
		case frame.ERROR:
			return fmt.Errorf("ws: connect refused: %s", f.Header.Get(frame.Message))
		default:
			return fmt.Errorf("ws: unexpected %s frame during handshake", f.Command)
		}
	}
}

// negotiate applies the server's `sx,sy` heart-beat header against ours.
func (c *stompConn) negotiate(header string) {
	parts := strings.Split(header, ",")
	if len(parts) != 2 {
		return
	}
	sx, err1 := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	sy, err2 := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err1 != nil || err2 != nil {
		return
	}
	if sy > 0 {
		c.sendEvery = maxDuration(heartBeat, time.Duration(sy)*time.Millisecond)
	}
	if sx > 0 {
		c.readWait = maxDuration(pongWait, 2*maxDuration(heartBeat, time.Duration(sx)*time.Millisecond))
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func (c *stompConn) write(f *frame.Frame) error {
	data, err := wire.Encode(f)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *stompConn) Done() <-chan struct{} { return c.done }

// Close sends DISCONNECT and closes the connection.
func (c *stompConn) Close() {
	c.close(true)
}

func (c *stompConn) close(graceful bool) {
	c.Lock()
	defer c.Unlock()
	if c.closing {
		return
	}
	c.closing = true
	c.graceful = graceful
	close(c.done)
}

func (c *stompConn) appendDataChan(f *frame.Frame) error {
	c.Lock()
	defer c.Unlock()
	if c.closing {
		return ErrClosed
	}
	select {
	case c.dataChan <- f:
		return nil
	default:
		return fmt.Errorf("ws: send queue is full")
	}
}

func (c *stompConn) Subscribe(id, destination string) error {
	return c.appendDataChan(frame.New(frame.SUBSCRIBE, frame.Id, id, frame.Destination, destination))
}

func (c *stompConn) Unsubscribe(id string) error {
	return c.appendDataChan(frame.New(frame.UNSUBSCRIBE, frame.Id, id))
}

func (c *stompConn) Send(destination string, body []byte) error {
	f := frame.New(frame.SEND, frame.Destination, destination, frame.ContentType, wire.ContentTypeJSON)
	f.Body = body
	return c.appendDataChan(f)
}

func (c *stompConn) recvLoop() {
	defer glog.V(5).Infof("ws: recvLoop() exited")

	c.conn.SetReadDeadline(time.Now().Add(c.readWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.readWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.Lock()
			closing := c.closing
			c.Unlock()
			if !closing {
				glog.Errorf("ws: recvLoop(): read error: %v", err)
			}
			c.close(false)
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.readWait))

		f, err := wire.Decode(data)
		if err != nil {
			droppedFrames.Inc()
			glog.Errorf("ws: recvLoop(): drop bad frame: %v", err)
			continue
		}
		if f == nil {
			continue
		}

		switch f.Command {
		case frame.MESSAGE:
			if glog.V(5) {
				glog.Infof("ws: recvLoop(): MESSAGE, destination: %s, body: %s",
					f.Header.Get(frame.Destination), logValue(f.Body))
			}
			c.onMessage(f.Header.Get(frame.Subscription), f.Body)
		case frame.RECEIPT:
		case frame.ERROR:
			glog.Errorf("ws: recvLoop(): server error: %s, body: %s", f.Header.Get(frame.Message), logValue(f.Body))
			c.close(false)
			return
		default:
			glog.Warningf("ws: recvLoop(): unexpected %s frame", f.Command)
		}
	}
}

func (c *stompConn) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	var beat <-chan time.Time
	if c.sendEvery > 0 {
		beatTicker := time.NewTicker(c.sendEvery)
		defer beatTicker.Stop()
		beat = beatTicker.C
	}
	defer func() {
		pingTicker.Stop()
		c.conn.Close()
		glog.V(5).Infof("ws: sendLoop() exited")
	}()

	for {
		select {
		case <-c.done:
			c.Lock()
			graceful := c.graceful
			c.Unlock()
			if graceful {
				_ = c.write(frame.New(frame.DISCONNECT))
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return
		case f := <-c.dataChan:
			if err := c.write(f); err != nil {
				glog.Errorf("ws: sendLoop(): write %s error: %v", f.Command, err)
				c.close(false)
				return
			}
		case <-beat:
			if err := c.write(nil); err != nil {
				glog.Errorf("ws: sendLoop(): write heart-beat error: %v", err)
				c.close(false)
				return
			}
		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("ws: sendLoop(): write ping error: %v", err)
				c.close(false)
				return
			}
		}
	}
}

func logValue(b []byte) string {
	s := string(b)
	if len(s) > 100 {
		s = s[:100] + " ..."
	}
	return s
}
