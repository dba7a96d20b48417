// Command kpipe-server accepts KCP+smux tunnel connections and bridges
// each multiplexed stream to a local TCP target through a pair of
// pipe.Pipe-backed buffers, giving the relay explicit backpressure
// instead of the teacher's bare io.Copy splice. Structured the same way
// as this module's teacher's server/main.go: urfave/cli flags, optional
// JSON config override, log redirection, and a pprof-free accept loop.
package main

import (
	"encoding/json"
	"log"
	"net"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"github.com/xtaci/smux"

	"github.com/xtaci/kpipe/internal/compress"
	"github.com/xtaci/kpipe/internal/relay"
	"github.com/xtaci/kpipe/internal/stats"
	"github.com/xtaci/kpipe/internal/transport"
	"github.com/xtaci/kpipe/pipe"
)

// sessions tracks every relay.Session currently bridging a stream, so the
// stats logger can sample live pipe occupancy across all of them.
var sessions sync.Map // *relay.Session -> struct{}

func registerSession(s *relay.Session) {
	sessions.Store(s, struct{}{})
}

func unregisterSession(s *relay.Session) {
	sessions.Delete(s)
}

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

// Config mirrors server/config.go's field-by-field JSON shape, trimmed to
// the flags this relay actually consumes.
type Config struct {
	Listen      string `json:"listen"`
	Target      string `json:"target"`
	Key         string `json:"key"`
	Crypt       string `json:"crypt"`
	Mode        string `json:"mode"`
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
	app.Name = "kpipe-server"
	app.Usage = "KCP+smux tunnel server relaying through bounded blocking pipes"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "listen,l", Value: ":29900", Usage: "kcp listen address"},
		cli.StringFlag{Name: "target,t", Value: "127.0.0.1:12948", Usage: "target TCP address"},
		cli.StringFlag{Name: "key", Value: "it's a secrect", Usage: "pre-shared secret", EnvVar: "KPIPE_KEY"},
		cli.StringFlag{Name: "crypt", Value: "aes", Usage: "cipher: aes, aes-128, aes-128-gcm, salsa20, none, ..."},
		cli.StringFlag{Name: "mode", Value: "fast", Usage: "profile: normal, fast, fast2, fast3"},
		cli.IntFlag{Name: "mtu", Value: 1350},
		cli.IntFlag{Name: "sndwnd", Value: 1024},
		cli.IntFlag{Name: "rcvwnd", Value: 1024},
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
		Listen: c.String("listen"), Target: c.String("target"), Key: c.String("key"),
		Crypt: c.String("crypt"), Mode: c.String("mode"), MTU: c.Int("mtu"),
		SndWnd: c.Int("sndwnd"), RcvWnd: c.Int("rcvwnd"),
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

	profile, ok := transport.Profiles[config.Mode]
	if !ok {
		profile = transport.Profiles["fast"]
	}

	log.Println("version:", VERSION)
	log.Println("listening on:", config.Listen, "target:", config.Target)
	log.Println("encryption:", config.Crypt, "compression:", !config.NoComp)
	log.Println("pipebuf:", config.PipeBuf)

	key := transport.DeriveKey(config.Key)
	block, effective := transport.SelectBlockCrypt(config.Crypt, key)
	config.Crypt = effective

	go stats.Logger(config.StatsLog, config.StatsPeriod, "server", liveSources)

	lis, err := transport.Listen(config.Listen, block, config.DataShard, config.ParityShard)
	checkError(err)
	log.Println("listening on:", lis.Addr())

	for {
		conn, err := lis.AcceptKCP()
		if err != nil {
			log.Printf("%+v", err)
			continue
		}
		transport.Tune(conn, profile, config.MTU, config.SndWnd, config.RcvWnd, config.AckNodelay, config.RateLimit)

		if config.NoComp {
			go handleSession(conn, &config)
		} else {
			go handleSession(compress.New(conn), &config)
		}
	}
}

// handleSession terminates a smux session on top of a (possibly
// compressed) KCP connection and bridges every accepted stream to the
// configured TCP target, mirroring server/main.go's handleMux.
func handleSession(conn net.Conn, config *Config) {
	smuxConfig, err := transport.BuildSmuxConfig(config.SmuxVer, config.SmuxBuf, config.StreamBuf, config.FrameSize, config.KeepAlive)
	if err != nil {
		log.Println(errors.Wrap(err, "handleSession"))
		conn.Close()
		return
	}

	mux, err := smux.Server(conn, smuxConfig)
	if err != nil {
		log.Println(errors.Wrap(err, "smux.Server"))
		return
	}
	defer mux.Close()

	for {
		stream, err := mux.AcceptStream()
		if err != nil {
			log.Println(err)
			return
		}
		go bridgeStream(stream, config)
	}
}

func bridgeStream(stream *smux.Stream, config *Config) {
	target, err := net.Dial("tcp", config.Target)
	if err != nil {
		log.Println(errors.Wrap(err, "dial target"))
		stream.Close()
		return
	}

	logf := func(format string, args ...any) {
		if !config.Quiet {
			log.Printf(format, args...)
		}
	}
	logf("stream opened: %v(%d) -> %v", stream.RemoteAddr(), stream.ID(), target.RemoteAddr())
	defer logf("stream closed: %v(%d) -> %v", stream.RemoteAddr(), stream.ID(), target.RemoteAddr())

	session := relay.New(stream, target, config.PipeBuf)
	registerSession(session)
	defer unregisterSession(session)

	errAB, errBA := session.Run()
	if errAB != nil {
		logf("relay: %v (errno %d)", errAB, pipe.ErrnoOf(errAB))
	}
	if errBA != nil {
		logf("relay: %v (errno %d)", errBA, pipe.ErrnoOf(errBA))
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
