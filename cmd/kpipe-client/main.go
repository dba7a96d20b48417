// Command kpipe-client accepts local TCP connections and relays them over
// a pool of KCP+smux tunnels to kpipe-server, bridging each multiplexed
// stream through a pair of pipe.Pipe-backed buffers. Structured after
// this module's teacher's client/main.go: urfave/cli flags, optional
// JSON config override, a round-robin connection pool with autoexpire
// and a scavenger goroutine, and log redirection.
package main

import (
	"encoding/json"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"github.com/xtaci/smux"

	"github.com/xtaci/kpipe/internal/compress"
	"github.com/xtaci/kpipe/internal/relay"
	"github.com/xtaci/kpipe/internal/stats"
	"github.com/xtaci/kpipe/internal/transport"
	"github.com/xtaci/kpipe/pipe"
)

// scavengePeriod matches client/main.go's scavenger tick.
const scavengePeriod = 5 * time.Second

// sessions tracks every relay.Session currently bridging a stream, so the
// stats logger can sample live pipe occupancy across all of them.
var sessions sync.Map // *relay.Session -> struct{}

func registerSession(s *relay.Session) { sessions.Store(s, struct{}{}) }
func unregisterSession(s *relay.Session) { sessions.Delete(s) }

func liveSources() []stats.Source {
	var out []stats.Source
	sessions.Range(func(key, _ any) bool {
		s := key.(*relay.Session)
		ab, ba := s.Pipes()
		out = append(out, ab, ba)
		return true
	})
	return out
}

// VERSION is injected by build flags, matching the teacher's convention.
var VERSION = "SELFBUILD"

// Config mirrors client/main.go's flag set, trimmed to what this relay
// actually consumes (no QPP, no tcpraw, no unix-socket listener: see
// SPEC_FULL.md §4 for why those are out of scope here).
type Config struct {
	LocalAddr   string `json:"localaddr"`
	RemoteAddr  string `json:"remoteaddr"`
	Key         string `json:"key"`
	Crypt       string `json:"crypt"`
	Mode        string `json:"mode"`
	Conn        int    `json:"conn"`
	AutoExpire  int    `json:"autoexpire"`
	ScavengeTTL int    `json:"scavengettl"`
	MTU         int    `json:"mtu"`
	SndWnd      int    `json:"sndwnd"`
	RcvWnd      int    `json:"rcvwnd"`
	DataShard   int    `json:"datashard"`
	ParityShard int    `json:"parityshard"`
	NoComp      bool   `json:"nocomp"`
	AckNodelay  bool   `json:"acknodelay"`
	RateLimit   int    `json:"ratelimit"`
	SmuxVer     int    `json:"smuxver"`
	SmuxBuf     int    `json:"smuxbuf"`
	StreamBuf   int    `json:"streambuf"`
	FrameSize   int    `json:"framesize"`
	KeepAlive   int    `json:"keepalive"`
	PipeBuf     int    `json:"pipebuf"`
	StatsLog    string `json:"statslog"`
	StatsPeriod int    `json:"statsperiod"`
	Log         string `json:"log"`
	Quiet       bool   `json:"quiet"`
}

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "kpipe-client"
	app.Usage = "client(with SMUX), relaying through bounded blocking pipes"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "localaddr,l", Value: ":12948"},
		cli.StringFlag{Name: "remoteaddr,r", Value: "vps:29900"},
		cli.StringFlag{Name: "key", Value: "it's a secrect", EnvVar: "KPIPE_KEY"},
		cli.StringFlag{Name: "crypt", Value: "aes"},
		cli.StringFlag{Name: "mode", Value: "fast"},
		cli.IntFlag{Name: "conn", Value: 1, Usage: "set num of UDP connections to server"},
		cli.IntFlag{Name: "autoexpire", Value: 0, Usage: "set auto expiration time(in seconds) for a single UDP connection, 0 to disable"},
		cli.IntFlag{Name: "scavengettl", Value: 600, Usage: "set how long an expired connection can live (in seconds)"},
		cli.IntFlag{Name: "mtu", Value: 1350},
		cli.IntFlag{Name: "sndwnd", Value: 128},
		cli.IntFlag{Name: "rcvwnd", Value: 512},
		cli.IntFlag{Name: "datashard,ds", Value: 10},
		cli.IntFlag{Name: "parityshard,ps", Value: 3},
		cli.BoolFlag{Name: "nocomp"},
		cli.IntFlag{Name: "ratelimit", Value: 0},
		cli.IntFlag{Name: "smuxver", Value: 2},
		cli.IntFlag{Name: "smuxbuf", Value: 4194304},
		cli.IntFlag{Name: "streambuf", Value: 2097152},
		cli.IntFlag{Name: "framesize", Value: 8192},
		cli.IntFlag{Name: "keepalive", Value: 10},
		cli.IntFlag{Name: "pipebuf", Value: 65536, Usage: "per-direction pipe.Pipe buffer size in bytes"},
		cli.StringFlag{Name: "statslog", Value: ""},
		cli.IntFlag{Name: "statsperiod", Value: 60},
		cli.StringFlag{Name: "log", Value: ""},
		cli.BoolFlag{Name: "quiet"},
		cli.StringFlag{Name: "c", Value: "", Usage: "config from JSON file, overrides flags"},
	}
	app.Action = run
	app.Run(os.Args)
}

func run(c *cli.Context) error {
	config := Config{
		LocalAddr: c.String("localaddr"), RemoteAddr: c.String("remoteaddr"), Key: c.String("key"),
		Crypt: c.String("crypt"), Mode: c.String("mode"), Conn: c.Int("conn"),
		AutoExpire: c.Int("autoexpire"), ScavengeTTL: c.Int("scavengettl"),
		MTU: c.Int("mtu"), SndWnd: c.Int("sndwnd"), RcvWnd: c.Int("rcvwnd"),
		DataShard: c.Int("datashard"), ParityShard: c.Int("parityshard"),
		NoComp: c.Bool("nocomp"), RateLimit: c.Int("ratelimit"),
		SmuxVer: c.Int("smuxver"), SmuxBuf: c.Int("smuxbuf"), StreamBuf: c.Int("streambuf"),
		FrameSize: c.Int("framesize"), KeepAlive: c.Int("keepalive"),
		PipeBuf: c.Int("pipebuf"), StatsLog: c.String("statslog"), StatsPeriod: c.Int("statsperiod"),
		Log: c.String("log"), Quiet: c.Bool("quiet"),
	}
	if path := c.String("c"); path != "" {
		checkError(parseJSONConfig(&config, path))
	}
	if config.Log != "" {
		f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		checkError(err)
		defer f.Close()
		log.SetOutput(f)
	}
	if config.Conn < 1 {
		config.Conn = 1
	}

	// A pipe buffer smaller than a single smux frame forces every frame's
	// worth of data through multiple pipe.Write calls for no benefit; warn
	// the operator the same way the teacher warns about a risky
	// scavengettl/autoexpire combination.
	if config.PipeBuf < config.FrameSize {
		color.Red("WARNING: pipebuf (%d) is smaller than framesize (%d); relay throughput may suffer.", config.PipeBuf, config.FrameSize)
	}
	if config.AutoExpire != 0 && config.ScavengeTTL > config.AutoExpire {
		color.Red("WARNING: scavengettl is bigger than autoexpire, connections may race hard to use bandwidth.")
		color.Red("Try limiting scavengettl to a smaller value.")
	}

	profile, ok := transport.Profiles[config.Mode]
	if !ok {
		profile = transport.Profiles["fast"]
	}

	log.Println("version:", VERSION)
	log.Println("remote address:", config.RemoteAddr, "conn:", config.Conn)
	log.Println("encryption:", config.Crypt, "compression:", !config.NoComp)
	log.Println("pipebuf:", config.PipeBuf)

	key := transport.DeriveKey(config.Key)
	block, effective := transport.SelectBlockCrypt(config.Crypt, key)
	config.Crypt = effective

	go stats.Logger(config.StatsLog, config.StatsPeriod, "client", liveSources)

	listener, err := net.Listen("tcp", config.LocalAddr)
	checkError(err)
	log.Println("listening on:", listener.Addr())

	createConn := func() (*smux.Session, error) {
		kcpconn, err := transport.Dial(config.RemoteAddr, block, config.DataShard, config.ParityShard)
		if err != nil {
			return nil, errors.Wrap(err, "dial")
		}
		transport.Tune(kcpconn, profile, config.MTU, config.SndWnd, config.RcvWnd, config.AckNodelay, config.RateLimit)

		smuxConfig, err := transport.BuildSmuxConfig(config.SmuxVer, config.SmuxBuf, config.StreamBuf, config.FrameSize, config.KeepAlive)
		if err != nil {
			return nil, errors.Wrap(err, "smux config")
		}

		var session *smux.Session
		if config.NoComp {
			session, err = smux.Client(kcpconn, smuxConfig)
		} else {
			session, err = smux.Client(compress.New(kcpconn), smuxConfig)
		}
		if err != nil {
			return nil, errors.Wrap(err, "smux.Client")
		}
		return session, nil
	}

	waitConn := func() *smux.Session {
		for {
			session, err := createConn()
			if err == nil {
				return session
			}
			log.Println("re-connecting:", err)
			time.Sleep(time.Second)
		}
	}

	chScavenger := make(chan timedSession, 128)
	if config.AutoExpire > 0 {
		go scavenger(chScavenger, &config)
	}

	numconn := uint16(config.Conn)
	muxes := make([]timedSession, numconn)
	var rr uint16

	for {
		p1, err := listener.Accept()
		if err != nil {
			log.Println(err)
			continue
		}
		idx := rr % numconn
		if muxes[idx].session == nil || muxes[idx].session.IsClosed() ||
			(config.AutoExpire > 0 && time.Now().After(muxes[idx].expiryDate)) {
			muxes[idx].session = waitConn()
			muxes[idx].expiryDate = time.Now().Add(time.Duration(config.AutoExpire) * time.Second)
			if config.AutoExpire > 0 {
				chScavenger <- muxes[idx]
			}
		}
		go handleLocalConn(muxes[idx].session, p1, &config)
		rr++
	}
}

func handleLocalConn(session *smux.Session, p1 net.Conn, config *Config) {
	logf := func(format string, args ...any) {
		if !config.Quiet {
			log.Printf(format, args...)
		}
	}

	stream, err := session.OpenStream()
	if err != nil {
		logf("OpenStream: %v", err)
		p1.Close()
		return
	}

	logf("stream opened: %v -> %v(%d)", p1.RemoteAddr(), session.RemoteAddr(), stream.ID())
	defer logf("stream closed: %v -> %v(%d)", p1.RemoteAddr(), session.RemoteAddr(), stream.ID())

	bridge := relay.New(p1, stream, config.PipeBuf)
	registerSession(bridge)
	defer unregisterSession(bridge)

	if errAB, errBA := bridge.Run(); errAB != nil || errBA != nil {
		logf("relay: %v (errno %d) / %v (errno %d)", errAB, pipe.ErrnoOf(errAB), errBA, pipe.ErrnoOf(errBA))
	}
}

// timedSession wraps a smux.Session with the deadline past which the
// scavenger will retire it, matching client/main.go's own timedSession.
type timedSession struct {
	session    *smux.Session
	expiryDate time.Time
}

// scavenger retires sessions past their autoexpire+scavengettl deadline,
// adapted from client/main.go's scavenger goroutine.
func scavenger(ch chan timedSession, config *Config) {
	ticker := time.NewTicker(scavengePeriod)
	defer ticker.Stop()
	var list []timedSession
	for {
		select {
		case item := <-ch:
			list = append(list, timedSession{item.session, item.expiryDate.Add(time.Duration(config.ScavengeTTL) * time.Second)})
		case <-ticker.C:
			var keep []timedSession
			for _, s := range list {
				switch {
				case s.session.IsClosed():
					log.Println("scavenger: session normally closed:", s.session.LocalAddr())
				case time.Now().After(s.expiryDate):
					s.session.Close()
					log.Println("scavenger: session closed due to ttl:", s.session.LocalAddr())
				default:
					keep = append(keep, s)
				}
			}
			list = keep
		}
	}
}

func parseJSONConfig(config *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(config)
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
